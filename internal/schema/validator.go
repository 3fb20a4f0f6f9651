// internal/schema/validator.go
// Package schema checks provider request and response bodies against JSON schemas
// before adapters read fields out of them.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Shape names, one per provider payload the adapters consume.
const (
	RazorpayOrder       = "razorpay.order"
	RazorpayWebhook     = "razorpay.webhook"
	CashfreeOrder       = "cashfree.order"
	CashfreeWebhook     = "cashfree.webhook"
	PhonePePay          = "phonepe.pay"
	PhonePeCallback     = "phonepe.callback"
	InstamojoPayRequest = "instamojo.payment_request"
)

var shapes = map[string]string{
	RazorpayOrder: `{"type":"object","required":["id","amount","currency"],"properties":{
		"id":{"type":"string","minLength":1},"amount":{"type":"integer"},"currency":{"type":"string"},"receipt":{"type":"string"}}}`,
	RazorpayWebhook: `{"type":"object","required":["event","payload"],"properties":{
		"event":{"type":"string"},
		"payload":{"type":"object","properties":{
			"payment":{"type":"object","required":["entity"],"properties":{"entity":{"type":"object","required":["id","order_id","amount","status"],"properties":{
				"id":{"type":"string"},"order_id":{"type":"string"},"amount":{"type":"integer"},"status":{"type":"string"},"notes":{"type":["object","array"]}}}}},
			"order":{"type":"object","required":["entity"],"properties":{"entity":{"type":"object","required":["id","amount","status"],"properties":{
				"id":{"type":"string"},"receipt":{"type":["string","null"]},"amount":{"type":"integer"},"status":{"type":"string"}}}}}}}}}`,
	CashfreeOrder: `{"type":"object","required":["order_id","payment_session_id"],"properties":{
		"order_id":{"type":"string","minLength":1},"payment_session_id":{"type":"string","minLength":1},"cf_order_id":{"type":["string","integer"]}}}`,
	CashfreeWebhook: `{"type":"object","required":["data","type"],"properties":{
		"type":{"type":"string"},
		"data":{"type":"object","required":["order","payment"],"properties":{
			"order":{"type":"object","required":["order_id","order_amount"],"properties":{"order_id":{"type":"string"},"order_amount":{"type":"number"}}},
			"payment":{"type":"object","required":["payment_status"],"properties":{"cf_payment_id":{"type":["string","integer"]},"payment_status":{"type":"string"},"payment_amount":{"type":"number"}}}}}}}`,
	PhonePePay: `{"type":"object","required":["success","code"],"properties":{
		"success":{"type":"boolean"},"code":{"type":"string"},
		"data":{"type":"object","properties":{"instrumentResponse":{"type":"object","properties":{"redirectInfo":{"type":"object","required":["url"],"properties":{"url":{"type":"string"}}}}}}}}}`,
	PhonePeCallback: `{"type":"object","required":["code","data"],"properties":{
		"success":{"type":"boolean"},"code":{"type":"string"},
		"data":{"type":"object","required":["merchantTransactionId","amount"],"properties":{
			"merchantTransactionId":{"type":"string","minLength":1},"transactionId":{"type":"string"},"amount":{"type":"integer"},"state":{"type":"string"}}}}}`,
	InstamojoPayRequest: `{"type":"object","required":["success","payment_request"],"properties":{
		"success":{"type":"boolean","enum":[true]},
		"payment_request":{"type":"object","required":["id","longurl"],"properties":{"id":{"type":"string","minLength":1},"longurl":{"type":"string","minLength":1}}}}}`,
}

// Validator validates provider payloads against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles every known shape.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(shapes))}
	for name, src := range shapes {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
)

// Default returns a process-wide validator. The shapes are compile-time
// constants, so a compile failure is a programming error.
func Default() *Validator {
	defaultOnce.Do(func() {
		v, err := NewValidator()
		if err != nil {
			panic(err)
		}
		defaultValidator = v
	})
	return defaultValidator
}

// Validate checks raw JSON against the named shape.
func (v *Validator) Validate(name string, raw []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown payload shape: %s", name)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed %s payload: %w", name, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%s payload rejected: %s", name, strings.Join(errs, "; "))
	}
	return nil
}
