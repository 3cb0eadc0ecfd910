package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissing = errors.New("signature: подпись или метка времени отсутствует")
	ErrInvalid = errors.New("signature: подпись не совпадает")
	ErrExpired = errors.New("signature: метка времени вне допустимого окна")
)

// Scheme описывает, как отправитель формирует подписываемую строку и заголовок.
type Scheme struct {
	// Payload собирает подписываемую строку из метки времени и тела.
	Payload func(timestamp string, body []byte) []byte
	// Prefix отрезается от каждой подписи из заголовка перед сравнением.
	Prefix string
}

// Omise подписывает "timestamp.body", заголовок может содержать несколько подписей через запятую.
var Omise = Scheme{
	Payload: func(ts string, body []byte) []byte {
		return append([]byte(ts+"."), body...)
	},
}

// Zoom подписывает "v0:timestamp:body", подпись в формате "v0=hex".
var Zoom = Scheme{
	Payload: func(ts string, body []byte) []byte {
		return append([]byte("v0:"+ts+":"), body...)
	},
	Prefix: "v0=",
}

// Sign возвращает hex HMAC-SHA256 подпись.
func (s Scheme) Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(s.Payload(timestamp, body))
	return s.Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись и свежесть метки времени (секунды Unix).
// tolerance <= 0 отключает проверку свежести.
func (s Scheme) Verify(secret []byte, timestamp, header string, body []byte, tolerance time.Duration, now time.Time) error {
	if timestamp == "" || header == "" {
		return ErrMissing
	}

	if tolerance > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrMissing
		}
		diff := now.Sub(time.Unix(sec, 0))
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			return ErrExpired
		}
	}

	expected := []byte(s.Sign(secret, timestamp, body))
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if hmac.Equal([]byte(candidate), expected) {
			return nil
		}
	}
	return ErrInvalid
}

// Token hex HMAC-SHA256 от строки, используется для подтверждения адреса вебхука.
func Token(secret []byte, plain string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(plain))
	return hex.EncodeToString(mac.Sum(nil))
}
