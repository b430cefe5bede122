// pkg/manifest/crc.go
package manifest

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

func crc32Of(b []byte) uint32 {
	return crc32.Checksum(b, table)
}
