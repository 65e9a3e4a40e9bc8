package webhook

import "time"

// PaymentNotice is posted when a scan payment is confirmed or expires.
type PaymentNotice struct {
	Tipo           string  `json:"tipo"`
	Nome           string  `json:"nome"`
	WhatsApp       string  `json:"whatsapp"`
	Valor          float64 `json:"valor"`
	CupomUtilizado string  `json:"cupom_utilizado,omitempty"`
	PaymentID      string  `json:"payment_id"`
	Status         string  `json:"status"`
	Timestamp      string  `json:"timestamp"`
}

// RecoveryNotice carries a recovery code for out-of-band delivery.
type RecoveryNotice struct {
	Codigo      string `json:"codigo"`
	NomeCliente string `json:"nome_cliente"`
	WhatsApp    string `json:"whatsapp"`
	Email       string `json:"email"`
	Timestamp   string `json:"timestamp"`
}

// Timestamp formats t the way the automation flows expect.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
