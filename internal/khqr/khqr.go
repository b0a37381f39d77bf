// Package khqr builds merchant-presented KHQR bank-transfer payloads.
//
// A payload is a sequence of tag-length-value fields in ascending tag order,
// terminated by tag 63 carrying a CRC-16 over everything before it
// (including the literal "6304").
package khqr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const (
	CurrencyKHR = "KHR"
	CurrencyUSD = "USD"

	applicationID = "A000000001"
	maxNameLen    = 25
	maxCityLen    = 15
	maxValueLen   = 99
	crcPrefix     = "6304"
)

var numericCurrency = map[string]string{
	CurrencyKHR: "116",
	CurrencyUSD: "840",
}

var (
	ErrInvalidAmount   = errors.New("khqr: amount must be positive")
	ErrInvalidCurrency = errors.New("khqr: unsupported currency")
	ErrMissingMerchant = errors.New("khqr: merchant id and terminal id are required")
)

type Merchant struct {
	Name       string
	City       string
	PostalCode string
	Bank       string
	MerchantID string
	TerminalID string
}

type Request struct {
	OrderID  string
	Amount   *decimal.Decimal // nil yields a static code without an amount
	Currency string
	Merchant Merchant
}

// Encode is deterministic: the same Request always yields the same string.
func Encode(req Request) (string, error) {
	if req.Amount != nil && !req.Amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	cur, ok := numericCurrency[strings.ToUpper(req.Currency)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, req.Currency)
	}
	m := req.Merchant
	if m.MerchantID == "" || m.TerminalID == "" {
		return "", ErrMissingMerchant
	}
	bank, _ := BankCode(m.Bank)

	account, err := join(map[string]string{
		"00": applicationID,
		"01": bank,
		"02": m.MerchantID,
		"03": m.TerminalID,
	})
	if err != nil {
		return "", err
	}

	fields := map[string]string{
		"00": "01",
		"01": "11",
		"29": account,
		"53": cur,
		"59": truncate(m.Name, maxNameLen),
		"60": truncate(m.City, maxCityLen),
		"61": m.PostalCode,
	}
	if req.Amount != nil {
		fields["01"] = "12"
		fields["54"] = req.Amount.StringFixed(2)
	}
	body, err := join(fields)
	if err != nil {
		return "", err
	}
	body += crcPrefix
	return body + fmt.Sprintf("%04X", CRC16([]byte(body))), nil
}

// join renders fields in ascending tag order, skipping empty values.
func join(fields map[string]string) (string, error) {
	tags := make([]string, 0, len(fields))
	for t, v := range fields {
		if v != "" {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	var b strings.Builder
	for _, t := range tags {
		v := fields[t]
		if len(v) > maxValueLen {
			return "", fmt.Errorf("khqr: tag %s value longer than %d bytes", t, maxValueLen)
		}
		fmt.Fprintf(&b, "%s%02d%s", t, len(v), v)
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// CRC16 is CRC-16 with initial value 0xFFFF and reflected polynomial 0xA001.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Reference is the correlation id a bank echoes back in its webhook.
func Reference(orderID string) string { return "KHQR_" + orderID }

func DeepLink(payload string) string {
	return "khqr://pay?data=" + url.QueryEscape(payload)
}

// PNG renders the payload as a QR image.
func PNG(payload string, size int) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// DataURL renders the payload as an inline base64 PNG.
func DataURL(payload string, size int) (string, error) {
	png, err := PNG(payload, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
