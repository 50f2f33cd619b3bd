// Package invoice sends invoices to the electronic-invoicing authority
// through the process-dataico-invoice function.
package invoice

import (
	"context"
	"errors"

	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/kuppel/kuppel.go/pkg/validation"
)

const Function = "process-dataico-invoice"

// ErrRejected is returned when the function answered but did not process
// the invoice.
var ErrRejected = errors.New("invoice rejected")

type request struct {
	InvoiceID string `json:"invoice_id"`
	SendEmail bool   `json:"send_email"`
}

// Result is the function's answer. The document fields are only set once
// the authority accepted the invoice.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UUID    string `json:"uuid,omitempty"`
	CUFE    string `json:"cufe,omitempty"`
	PDFURL  string `json:"pdf_url,omitempty"`
	XMLURL  string `json:"xml_url,omitempty"`
}

type Processor struct {
	db       *kuppel.DB
	notifier notify.Notifier
	catalog  notify.Catalog
	logger   logger.Logger
}

type Option func(p *Processor)

func WithNotifier(n notify.Notifier, c notify.Catalog) Option {
	return func(p *Processor) { p.notifier, p.catalog = n, c }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func NewProcessor(db *kuppel.DB, opts ...Option) *Processor {
	p := &Processor{
		db:       db,
		notifier: notify.Discard,
		catalog:  notify.NewCatalog(notify.DefaultLocale),
		logger:   logger.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process submits the invoice. A transport failure or a result with
// Success false both end in a destructive toast; the result is returned
// whenever the function answered so callers can show its message.
func (p *Processor) Process(ctx context.Context, invoiceID string, sendEmail bool) (*Result, error) {
	if err := validation.Required("invoice", invoiceID).Err(); err != nil {
		p.notifier.Notify(notify.Failure(p.catalog, notify.KeyInvoiceFailed, err))
		return nil, err
	}

	res, err := kuppel.InvokeFunction[Result](ctx, p.db, Function, request{InvoiceID: invoiceID, SendEmail: sendEmail})
	if err != nil {
		p.logger.Error("invoice processing failed", "invoice", invoiceID, "error", err)
		p.notifier.Notify(notify.Failure(p.catalog, notify.KeyInvoiceFailed, err))
		return nil, err
	}

	if !res.Success {
		err := ErrRejected
		if res.Message != "" {
			err = &rejection{message: res.Message}
		}
		p.notifier.Notify(notify.Failure(p.catalog, notify.KeyInvoiceFailed, err))
		return res, err
	}

	p.logger.Info("invoice processed", "invoice", invoiceID, "uuid", res.UUID)
	p.notifier.Notify(notify.Success(p.catalog, notify.KeyInvoiceProcessed, invoiceID))
	return res, nil
}

type rejection struct {
	message string
}

func (r *rejection) Error() string { return r.message }

func (r *rejection) Unwrap() error { return ErrRejected }
