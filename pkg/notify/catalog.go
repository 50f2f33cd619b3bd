package notify

import (
	"fmt"
	"strings"
)

const (
	KeyErrorTitle   = "error.title"
	KeySuccessTitle = "success.title"

	KeyExpenseCreateFailed = "expense.create.failed"
	KeyExpenseCreated      = "expense.created"
	KeyRegisterOpenFailed  = "register.open.failed"
	KeyRegisterCloseFailed = "register.close.failed"
	KeyInvoiceFailed       = "invoice.failed"
	KeyInvoiceProcessed    = "invoice.processed"
	KeyVoteFailed          = "vote.failed"
	KeyTourFailed          = "tour.failed"
	KeyVariantCreateFailed = "variant.create.failed"
	KeySettingsSaveFailed  = "settings.save.failed"
	KeyLoginFailed         = "login.failed"
	KeyLoginLocked         = "login.locked"
	KeySecurityWarning     = "security.warning"
	KeyUnexpected          = "app.unexpected"
)

var messages = map[string]map[string]string{
	"es": {
		KeyErrorTitle:          "Error",
		KeySuccessTitle:        "Listo",
		KeyExpenseCreateFailed: "No se pudo registrar el gasto",
		KeyExpenseCreated:      "Gasto registrado",
		KeyRegisterOpenFailed:  "No se pudo abrir la caja",
		KeyRegisterCloseFailed: "No se pudo cerrar la caja",
		KeyInvoiceFailed:       "No se pudo procesar la factura",
		KeyInvoiceProcessed:    "Factura %s procesada",
		KeyVoteFailed:          "No se pudo registrar el voto",
		KeyTourFailed:          "No se pudo guardar el recorrido",
		KeyVariantCreateFailed: "No se pudo crear el tipo de variante",
		KeySettingsSaveFailed:  "No se pudo guardar la configuración",
		KeyLoginFailed:         "Credenciales inválidas",
		KeyLoginLocked:         "Demasiados intentos fallidos. Intenta de nuevo en %d minutos",
		KeySecurityWarning:     "Quedan %d intentos antes del bloqueo",
		KeyUnexpected:          "Algo salió mal. Reintenta o recarga la aplicación",
	},
	"en": {
		KeyErrorTitle:          "Error",
		KeySuccessTitle:        "Done",
		KeyExpenseCreateFailed: "Could not record the expense",
		KeyExpenseCreated:      "Expense recorded",
		KeyRegisterOpenFailed:  "Could not open the register",
		KeyRegisterCloseFailed: "Could not close the register",
		KeyInvoiceFailed:       "Could not process the invoice",
		KeyInvoiceProcessed:    "Invoice %s processed",
		KeyVoteFailed:          "Could not record the vote",
		KeyTourFailed:          "Could not save the tour",
		KeyVariantCreateFailed: "Could not create the variant type",
		KeySettingsSaveFailed:  "Could not save the settings",
		KeyLoginFailed:         "Invalid credentials",
		KeyLoginLocked:         "Too many failed attempts. Try again in %d minutes",
		KeySecurityWarning:     "%d attempts left before lockout",
		KeyUnexpected:          "Something went wrong. Retry or reload the application",
	},
}

// DefaultLocale is used for unknown locales.
const DefaultLocale = "es"

// Catalog looks up messages for one locale.
type Catalog struct {
	locale string
}

// NewCatalog accepts tags like "es", "es-CO" or "en_US".
func NewCatalog(locale string) Catalog {
	base := strings.ToLower(locale)
	if i := strings.IndexAny(base, "-_"); i >= 0 {
		base = base[:i]
	}
	if _, ok := messages[base]; !ok {
		base = DefaultLocale
	}
	return Catalog{locale: base}
}

func (c Catalog) Locale() string {
	if c.locale == "" {
		return DefaultLocale
	}
	return c.locale
}

// T formats the message for key. Unknown keys come back verbatim.
func (c Catalog) T(key string, args ...any) string {
	msg, ok := messages[c.Locale()][key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
