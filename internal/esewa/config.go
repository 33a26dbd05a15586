package esewa

import (
	"github.com/go-playground/validator/v10"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config holds the per-environment merchant credentials and gateway endpoints.
// It is assembled once at startup and injected into the client; nothing in this
// package reads the environment.
type Config struct {
	MerchantCode string `validate:"required"`
	SecretKey    string `validate:"required"`
	SuccessURL   string `validate:"required,url"`
	FailureURL   string `validate:"required,url"`
	// PaymentURL is the browser form-POST target.
	PaymentURL string `validate:"required,url"`
	// StatusURL is the transaction status-check base. It already carries the
	// leading query (".../status/?transaction_uuid="); the verification client
	// appends the transaction uuid and the remaining parameters.
	StatusURL string `validate:"required,url"`
}

func (c Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// Resolve picks the config for the given mode. An unrecognized mode falls back
// to the development config, matching how the storefront always behaved; main
// validates the mode flag at startup so a typo cannot reach production traffic.
func Resolve(mode string, dev, prod Config) Config {
	if mode == ModeProduction {
		return prod
	}
	return dev
}

// DevelopmentDefaults is the eSewa UAT environment with the public EPAYTEST
// merchant. Success/failure URLs still have to come from deployment config.
func DevelopmentDefaults() Config {
	return Config{
		MerchantCode: "EPAYTEST",
		SecretKey:    "8gBm/:&EnhH.1/q",
		PaymentURL:   "https://rc-epay.esewa.com.np/api/epay/main/v2/form",
		StatusURL:    "https://rc.esewa.com.np/api/epay/transaction/status/?transaction_uuid=",
	}
}
