package utils

import (
	"encoding/hex"
	"strings"
)

const UUID_BytesLen = 16

// StrToUUID parses the canonical 36 char form, e.g. a684455c-b14f-11ea-bf0d-42010aaa0003.
func StrToUUID(s string) (uuid [UUID_BytesLen]byte, err error) {
	if len(s) != 36 {
		return uuid, ErrInErr{ErrDesc: "invalid UUID Str", ErrDetail: ErrInvalidData, Data: s}
	}
	b := []byte(strings.Replace(s, "-", "", -1))
	if len(b) != 32 {
		return uuid, ErrInErr{ErrDesc: "invalid UUID Str", ErrDetail: ErrInvalidData, Data: s}
	}
	_, err = hex.Decode(uuid[:], b)
	if err != nil {
		err = ErrInErr{ErrDesc: "invalid UUID Str", ErrDetail: ErrInvalidData, Data: s}
	}
	return
}

func UUIDToStr(u []byte) string {
	if len(u) != UUID_BytesLen {
		return ""
	}
	buf := make([]byte, 36)
	hex.Encode(buf[0:8], u[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], u[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], u[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], u[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], u[10:])
	return string(buf)
}
