package constants

import "time"

const (
	// RequestIDLength size of id sent on WS request
	RequestIDLength = 16
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultWSTimeout is the default time a Send waits for its response
	DefaultWSTimeout = 30 * time.Second
	// DefaultHTTPTimeout bounds serverless function invocations
	DefaultHTTPTimeout = 60 * time.Second
	// NotificationBufferSize is the capacity of each live notification channel
	NotificationBufferSize = 64
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
	PostgresScheme        = "postgres"
	PostgresqlScheme      = "postgresql"
)

// Collections the client reads from and writes to.
const (
	TableOrders        = "orders"
	TableOrderItems    = "order_items"
	TableTables        = "tables"
	TableExpenses      = "expenses"
	TableCashRegisters = "cash_registers"
	TableVariantTypes  = "variant_types"
	TableVotes         = "votes"
	TableUsers         = "users"
	TableCompanies     = "companies"
)

// Remote procedures and serverless functions.
const (
	ProcCheckCompanyLimits = "check_company_limits"
	ProcGetVoteCounts      = "get_vote_counts"
	ProcCastVote           = "cast_vote"

	FunctionProcessDataicoInvoice = "process-dataico-invoice"
)
