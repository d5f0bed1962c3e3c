package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/amirphl/orgsync/app/dto"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/go-playground/validator/v10"
)

// Codec decodes inbound frames into typed payloads and validates them at the boundary
type Codec struct {
	validate *validator.Validate
}

func NewCodec() *Codec {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Codec{validate: v}
}

// DecodeMessage parses the outer frame. Unknown top-level fields are rejected.
func (c *Codec) DecodeMessage(raw []byte) (*dto.InboundMessage, error) {
	var msg dto.InboundMessage
	if err := strictUnmarshal(raw, &msg); err != nil {
		return nil, businessflow.NewBusinessError("MALFORMED_MESSAGE", "Message must be a JSON object with an action", fmt.Errorf("%w: %w", businessflow.ErrBadRequest, err))
	}
	msg.Action = strings.TrimSpace(msg.Action)
	if err := c.check(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeData parses an action payload into T. A missing payload decodes as an empty object.
func DecodeData[T any](c *Codec, data json.RawMessage) (*T, error) {
	var out T
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := strictUnmarshal(raw, &out); err != nil {
		return nil, businessflow.NewBusinessError("MALFORMED_PAYLOAD", "Invalid payload for this action", fmt.Errorf("%w: %w", businessflow.ErrBadRequest, err))
	}
	if err := c.check(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Codec) check(v any) error {
	err := c.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return businessflow.NewBusinessError("VALIDATION_ERROR", "Validation failed", fmt.Errorf("%w: %w", businessflow.ErrBadRequest, err))
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, validationMessage(fe))
	}
	return businessflow.NewBusinessError("VALIDATION_ERROR", "Validation failed: "+strings.Join(msgs, "; "), fmt.Errorf("%w: %w", businessflow.ErrBadRequest, err))
}

// Encode renders an outbound envelope
func Encode(env dto.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func validationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	default:
		return err.Field() + " is invalid"
	}
}
