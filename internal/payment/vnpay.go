// Package payment implements the VNPay redirect/callback signing convention.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"
	ParamOrderInfo      = "vnp_OrderInfo"
	ParamResponseCode   = "vnp_ResponseCode"
	ParamTxnStatus      = "vnp_TransactionStatus"
	ParamAmount         = "vnp_Amount"
	ParamTxnRef         = "vnp_TxnRef"

	// OrderPrefix is the fixed part of vnp_OrderInfo; the reservation id follows "#".
	OrderPrefix = "BOOKING"

	ResponseSuccess = "00"

	version   = "2.1.0"
	command   = "pay"
	locale    = "vn"
	currCode  = "VND"
	orderType = "billpayment"
)

var ErrNotConfigured = errors.New("payment gateway is not configured")

type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Location   *time.Location
}

// Order is what a redirect is built from.
type Order struct {
	ReservationID string
	Amount        float64
	ClientIP      string
	CreatedAt     time.Time
}

type VNPay struct {
	cfg Config
}

func NewVNPay(cfg Config) *VNPay {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &VNPay{cfg: cfg}
}

// MinorUnits converts a price to the gateway's integer amount (x100, floored).
func MinorUnits(amount float64) int64 {
	return int64(math.Floor(amount * 100))
}

func OrderReference(reservationID string) string {
	return OrderPrefix + "#" + reservationID
}

// ParseOrderReference extracts the reservation id from vnp_OrderInfo.
func ParseOrderReference(info string) (string, error) {
	prefix, id, ok := strings.Cut(info, "#")
	id = strings.TrimSpace(id)
	if !ok || prefix != OrderPrefix || id == "" || strings.Contains(id, "#") {
		return "", fmt.Errorf("unexpected order info %q", info)
	}
	return id, nil
}

// Canonical builds the signed string: keys sorted, values unescaped, joined by "&".
// The signature fields are never part of it.
func Canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}

func sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the hex HMAC-SHA512 of the canonical form of params.
func (v *VNPay) Sign(params url.Values) string {
	return sign(v.cfg.HashSecret, Canonical(params))
}

// BuildRedirect returns the gateway URL for an order. Values are percent-encoded in
// the URL; the signature covers their raw form, which is what the gateway verifies.
func (v *VNPay) BuildRedirect(o Order) (string, error) {
	if v.cfg.TmnCode == "" || v.cfg.HashSecret == "" || v.cfg.PayURL == "" || v.cfg.ReturnURL == "" {
		return "", ErrNotConfigured
	}
	if o.ReservationID == "" {
		return "", fmt.Errorf("order has no reservation id")
	}
	ip := o.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	at := o.CreatedAt.In(v.cfg.Location)

	params := url.Values{}
	params.Set("vnp_Version", version)
	params.Set("vnp_Command", command)
	params.Set("vnp_TmnCode", v.cfg.TmnCode)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_CurrCode", currCode)
	params.Set(ParamTxnRef, o.ReservationID+"_"+at.Format("150405"))
	params.Set(ParamOrderInfo, OrderReference(o.ReservationID))
	params.Set("vnp_OrderType", orderType)
	params.Set(ParamAmount, strconv.FormatInt(MinorUnits(o.Amount), 10))
	params.Set("vnp_ReturnUrl", v.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", at.Format("20060102150405"))
	params.Set(ParamSecureHash, v.Sign(params))

	// url.Values.Encode sorts keys too, so the URL reads in canonical order.
	return v.cfg.PayURL + "?" + params.Encode(), nil
}

// VerifyCallback recomputes the signature over everything except the signature fields
// and compares in constant time. The input is not modified.
func (v *VNPay) VerifyCallback(params url.Values) bool {
	got := params.Get(ParamSecureHash)
	if got == "" || v.cfg.HashSecret == "" {
		return false
	}
	want := v.Sign(params)
	return hmac.Equal([]byte(got), []byte(want))
}

// IsSuccess reports whether the callback carries a successful response code.
// When the gateway also reports a transaction status, it must agree.
func IsSuccess(params url.Values) bool {
	if params.Get(ParamResponseCode) != ResponseSuccess {
		return false
	}
	if ts, ok := params[ParamTxnStatus]; ok && len(ts) > 0 && ts[0] != ResponseSuccess {
		return false
	}
	return true
}

// Amount parses vnp_Amount in minor units.
func Amount(params url.Values) (int64, error) {
	return strconv.ParseInt(params.Get(ParamAmount), 10, 64)
}
