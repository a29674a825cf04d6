package validation

import (
	"encoding/hex"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/model-downloader/internal/storage"
)

// New returns a validator with the project's custom rules registered:
// safe_url, sha256hex and file_name. With allowPrivateHosts set, safe_url
// accepts loopback and private addresses.
func New(allowPrivateHosts bool) *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("safe_url", func(fl validator.FieldLevel) bool {
		return isSafeURL(fl.Field().String(), allowPrivateHosts)
	})
	_ = v.RegisterValidation("sha256hex", validateSHA256Hex)
	_ = v.RegisterValidation("file_name", func(fl validator.FieldLevel) bool {
		return storage.ValidFileName(fl.Field().String())
	})
	return v
}

func validateSHA256Hex(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func isSafeURL(urlStr string, allowPrivate bool) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if u.Host == "" {
		return false
	}

	if allowPrivate {
		return true
	}

	host := u.Hostname()

	forbiddenHosts := []string{
		"localhost",
		"127.0.0.1",
		"::1",
		"0.0.0.0",
		"169.254.169.254",
	}

	for _, forbidden := range forbiddenHosts {
		if strings.EqualFold(host, forbidden) {
			return false
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			return false
		}
	}

	return true
}
