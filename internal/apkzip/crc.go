package apkzip

import "hash/crc32"

// newCRC32 returns a digester using the standard CRC-32 parameters (width
// 32, poly 0x04c11db7, init 0xffffffff, reflected in/out, xorout 0xffffffff)
// -- the reflected form of that polynomial is exactly the IEEE 802.3 table
// Go's standard library already ships, which is also the CRC every ZIP
// implementation uses.
func newCRC32() *crc32Writer {
	return &crc32Writer{table: crc32.IEEETable}
}

type crc32Writer struct {
	table *crc32.Table
	sum   uint32
}

func (c *crc32Writer) Write(p []byte) (int, error) {
	c.sum = crc32.Update(c.sum, c.table, p)
	return len(p), nil
}

func (c *crc32Writer) Sum32() uint32 { return c.sum }
