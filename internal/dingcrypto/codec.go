package dingcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

const (
	aesKeyLen = 32
	nonceLen  = 16
)

// Envelope is the signed, encrypted callback body exchanged with DingTalk.
// Field names follow the platform exactly (note the capital S in timeStamp).
type Envelope struct {
	MsgSignature string `json:"msg_signature"`
	TimeStamp    string `json:"timeStamp"`
	Nonce        string `json:"nonce"`
	Encrypt      string `json:"encrypt"`
}

// Codec decrypts inbound callbacks and encrypts responses for one application.
type Codec struct {
	token  string
	appKey string
	block  cipher.Block
	iv     []byte
	opts   options
}

// NewCodec builds a Codec from the callback token, the 43 character
// EncodingAESKey and the application key (Client ID / corp ID) embedded in
// every frame.
func NewCodec(token, encodingKey, appKey string, opts ...Option) (*Codec, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrConfiguration)
	}
	if encodingKey == "" {
		return nil, fmt.Errorf("%w: aes key is empty", ErrConfiguration)
	}
	if appKey == "" {
		return nil, fmt.Errorf("%w: application key is empty", ErrConfiguration)
	}

	key, err := base64.StdEncoding.DecodeString(encodingKey + "=")
	if err != nil {
		return nil, fmt.Errorf("%w: aes key is not valid base64", ErrConfiguration)
	}
	if len(key) != aesKeyLen {
		return nil, fmt.Errorf("%w: aes key decodes to %d bytes, want %d", ErrConfiguration, len(key), aesKeyLen)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Codec{
		token:  token,
		appKey: appKey,
		block:  block,
		// Platform convention: the IV is the key prefix, not per-message.
		iv:   append([]byte(nil), key[:aes.BlockSize]...),
		opts: o,
	}, nil
}

// Decrypt authenticates and decrypts one inbound callback, returning the
// plaintext event body.
func (c *Codec) Decrypt(signature, timestamp, nonce, ciphertext string) (string, error) {
	if !constantTimeEqual(Signature(c.token, timestamp, nonce, ciphertext), signature) {
		return "", ErrSignature
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", ErrDecode, len(raw), aes.BlockSize)
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(plain, raw)

	plain, err = pkcs7Unpad(plain, padBlockSize)
	if err != nil {
		return "", err
	}

	body, id, err := unpackFrame(plain)
	if err != nil {
		return "", err
	}
	if !constantTimeEqual(string(id), c.appKey) {
		return "", ErrIdentifierMismatch
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: body is not valid UTF-8", ErrDecode)
	}
	return string(body), nil
}

// Encrypt wraps plaintext into a freshly signed Envelope. Every call draws a
// new frame prefix and nonce.
func (c *Codec) Encrypt(plaintext string) (Envelope, error) {
	prefix, err := randomString(c.opts.random, framePrefixLen)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	nonce, err := randomString(c.opts.random, nonceLen)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	frame := pkcs7Pad(packFrame([]byte(prefix), []byte(plaintext), c.appKey), padBlockSize)
	out := make([]byte, len(frame))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, frame)
	encrypted := base64.StdEncoding.EncodeToString(out)

	ts := c.opts.unit.format(c.opts.now())
	return Envelope{
		MsgSignature: Signature(c.token, ts, nonce, encrypted),
		TimeStamp:    ts,
		Nonce:        nonce,
		Encrypt:      encrypted,
	}, nil
}

// DecryptEnvelope is Decrypt applied to an Envelope, used for round trips.
func (c *Codec) DecryptEnvelope(env Envelope) (string, error) {
	return c.Decrypt(env.MsgSignature, env.TimeStamp, env.Nonce, env.Encrypt)
}

// TimestampUnit reports the unit Encrypt uses for timeStamp.
func (c *Codec) TimestampUnit() TimestampUnit {
	return c.opts.unit
}
