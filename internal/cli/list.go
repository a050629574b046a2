package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bilicache/bilicache/internal/entry"
	"github.com/bilicache/bilicache/internal/rish"
	"github.com/bilicache/bilicache/internal/scanner"
)

var listUID string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached items on the device",
	Long: `Without flags, lists the account UIDs that have cached items.
With --uid, lists that account's cache folders together with their
titles from entry.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, ch, err := loadEnv()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		// Enumeration has no retry loop of its own, so ride out flaky
		// channel calls here.
		rch := rish.NewRetryingChannel(ch, rish.DefaultRetryPolicy(), log)
		sc := scanner.New(rch, cfg.BiliRoot, log)

		if listUID == "" {
			uids, err := sc.ListUIDs(ctx)
			if err != nil {
				return err
			}
			if len(uids) == 0 {
				fmt.Println("no cached accounts found")
				return nil
			}
			for _, uid := range uids {
				fmt.Println(uid)
			}
			return nil
		}

		folders, err := sc.ListFolders(ctx, listUID)
		if err != nil {
			return err
		}
		if len(folders) == 0 {
			fmt.Printf("no cache folders under %s\n", listUID)
			return nil
		}

		reader := entry.NewReader(rch, cfg.BiliRoot, log)
		for _, folder := range folders {
			e, err := reader.Read(ctx, listUID, folder)
			if err != nil {
				fmt.Printf("%s\t(metadata unreadable)\n", folder)
				continue
			}
			fmt.Printf("%s\t%s\n", folder, e.FullTitle())
		}
		if stats := reader.Stats(); stats.Total() > 0 {
			log.Warn("some entry.json files were unreadable",
				"missing", stats.Missing,
				"empty", stats.Empty,
				"invalid_json", stats.InvalidJSON,
				"other", stats.Other)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listUID, "uid", "", "list cache folders for this account UID")
}
