package dingcrypto

import (
	"encoding/binary"
	"fmt"
)

const (
	framePrefixLen = 16
	frameHeaderLen = framePrefixLen + 4
)

// packFrame lays out prefix | uint32 big-endian len(body) | body | appKey.
func packFrame(prefix, body []byte, appKey string) []byte {
	buf := make([]byte, frameHeaderLen, frameHeaderLen+len(body)+len(appKey)+padBlockSize)
	copy(buf, prefix[:framePrefixLen])
	binary.BigEndian.PutUint32(buf[framePrefixLen:frameHeaderLen], uint32(len(body)))
	buf = append(buf, body...)
	return append(buf, appKey...)
}

// unpackFrame splits an unpadded frame into body and trailing identifier.
func unpackFrame(plain []byte) (body, id []byte, err error) {
	if len(plain) < frameHeaderLen {
		return nil, nil, fmt.Errorf("%w: frame shorter than header (%d bytes)", ErrDecode, len(plain))
	}
	n := binary.BigEndian.Uint32(plain[framePrefixLen:frameHeaderLen])
	if uint64(n) > uint64(len(plain)-frameHeaderLen) {
		return nil, nil, fmt.Errorf("%w: body length %d exceeds frame", ErrDecode, n)
	}
	end := frameHeaderLen + int(n)
	return plain[frameHeaderLen:end], plain[end:], nil
}
