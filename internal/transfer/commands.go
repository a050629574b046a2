package transfer

import "fmt"

// Remote command forms. The remote side is a stock Android toybox
// environment; these templates are the exact strings that environment is
// known to accept and must not be reformatted.

func cmdProbeDir(dir string) string {
	return fmt.Sprintf("test -d '%s'", dir)
}

func cmdRemoveFile(path string) string {
	return fmt.Sprintf("rm -f '%s'", path)
}

func cmdPackDir(parentDir, archivePath, itemDir string) string {
	return fmt.Sprintf("cd '%s' && tar -cf '%s' '%s'", parentDir, archivePath, itemDir)
}

func cmdFileSize(path string) string {
	return fmt.Sprintf("stat -c %%s '%s'", path)
}

func cmdFetchRange(path string, blockSize, skipBlocks, countBlocks int64) string {
	return fmt.Sprintf("dd if='%s' bs=%d skip=%d count=%d iflag=fullblock 2>/dev/null | base64 -w 0",
		path, blockSize, skipBlocks, countBlocks)
}

func cmdChecksum(path string) string {
	return fmt.Sprintf("md5sum '%s'", path)
}
