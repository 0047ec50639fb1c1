package datafile

import (
	"fmt"
	"io"

	"recorddb/bytecodec"
	"recorddb/fileschema"
)

// magicLen, recordLengthLen and fieldCountLen are the fixed widths of the
// three header fields, in the order they appear on disk.
const (
	magicLen         = 4
	recordLengthLen  = 4
	fieldCountLen    = 2
	fieldNameLenSize = 2
	fieldLengthSize  = 2
)

// Header is the 10-byte section at the start of every data file: a magic
// cookie (opaque, stored but never validated beyond its presence), the
// declared record length R, and the field count F.
type Header struct {
	Magic                  [magicLen]byte
	RecordLength           uint32
	NumberOfFieldsInRecord uint16
}

func readHeader(r io.Reader) (Header, error) {
	var h Header
	if _, err := io.ReadFull(r, h.Magic[:]); err != nil {
		return h, fmt.Errorf("datafile: reading magic cookie: %w", err)
	}

	buf := make([]byte, recordLengthLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, fmt.Errorf("datafile: reading record length: %w", err)
	}
	h.RecordLength = uint32(bytecodec.DecodeInt(buf))

	buf = buf[:fieldCountLen]
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, fmt.Errorf("datafile: reading field count: %w", err)
	}
	h.NumberOfFieldsInRecord = uint16(bytecodec.DecodeInt(buf))

	return h, nil
}

func readFileSchema(r io.Reader, fieldCount int) (*fileschema.Schema, error) {
	fields := make([]fileschema.Field, fieldCount)
	for i := range fields {
		nameLenBuf := make([]byte, fieldNameLenSize)
		if _, err := io.ReadFull(r, nameLenBuf); err != nil {
			return nil, fmt.Errorf("datafile: reading field %d name length: %w", i, err)
		}
		nameLen := int(bytecodec.DecodeInt(nameLenBuf))

		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, fmt.Errorf("datafile: reading field %d name: %w", i, err)
		}

		lenBuf := make([]byte, fieldLengthSize)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, fmt.Errorf("datafile: reading field %d length: %w", i, err)
		}

		fields[i] = fileschema.Field{
			Name:   string(nameBuf),
			Length: int(bytecodec.DecodeInt(lenBuf)),
		}
	}
	return fileschema.New(fields), nil
}

func encodeHeader(magic [magicLen]byte, recordLength uint32, fieldCount uint16) []byte {
	buf := make([]byte, 0, magicLen+recordLengthLen+fieldCountLen)
	buf = append(buf, magic[:]...)
	buf = append(buf, bytecodec.EncodeUint4(recordLength)...)
	buf = append(buf, bytecodec.EncodeUint2(uint32(fieldCount))...)
	return buf
}

func encodeFileSchema(fields []fileschema.Field) []byte {
	var buf []byte
	for _, f := range fields {
		buf = append(buf, bytecodec.EncodeUint2(uint32(len(f.Name)))...)
		buf = append(buf, []byte(f.Name)...)
		buf = append(buf, bytecodec.EncodeUint2(uint32(f.Length))...)
	}
	return buf
}
