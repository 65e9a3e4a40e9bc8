package validate

import (
	"errors"
	"testing"
)

type sample struct {
	Nome     string `json:"nome" validate:"required,min=2"`
	CPF      string `json:"cpf" validate:"digits_len=11"`
	WhatsApp string `json:"whatsapp" validate:"digits_min=10,digits_max=13"`
	Coupon   string `json:"coupon" validate:"coupon"`
	Password string `json:"password" validate:"strong_password"`
	URL      string `json:"url" validate:"web_url"`
}

var sampleMessages = Messages{
	"nome":     "Nome deve ter no mínimo 2 caracteres",
	"cpf":      "CPF inválido",
	"whatsapp": "WhatsApp inválido",
}

func valid() sample {
	return sample{
		Nome:     "Ana",
		CPF:      "123.456.789-01",
		WhatsApp: "(11) 99999-9999",
		Coupon:   " Joao10 ",
		Password: "S3nha!forte",
		URL:      "https://ana.dev",
	}
}

func TestStructAcceptsValidInput(t *testing.T) {
	if err := New().Struct(valid(), sampleMessages); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructReturnsFirstFailingFieldMessage(t *testing.T) {
	v := New()
	s := valid()
	s.CPF = "123"
	s.WhatsApp = "1"
	err := v.Struct(s, sampleMessages)
	var verr *Error
	if !errors.As(err, &verr) || verr.Field != "cpf" || verr.Message != "CPF inválido" {
		t.Fatalf("unexpected error: %#v", err)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatal("expected errors.Is(err, ErrInvalid)")
	}
}

func TestCustomRules(t *testing.T) {
	v := New()
	cases := []func(*sample){
		func(s *sample) { s.Coupon = "ab" },
		func(s *sample) { s.Coupon = "com-hifen" },
		func(s *sample) { s.Password = "fraca" },
		func(s *sample) { s.URL = "ftp://ana.dev" },
		func(s *sample) { s.URL = "ana.dev" },
		func(s *sample) { s.WhatsApp = "55 11 99999-99999" },
	}
	for i, mutate := range cases {
		s := valid()
		mutate(&s)
		if err := v.Struct(s, nil); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("(11) 9.9999-9999"); got != "11999999999" {
		t.Fatalf("Digits = %q", got)
	}
}
