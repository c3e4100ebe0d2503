package bin

import "encoding/binary"

func U32BE(src []byte) uint32                 { return binary.BigEndian.Uint32(src) }
func AppendU32BE(dst []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(dst, v) }
