package log

import "splitledger/internal/core"

// Field names shared by all components.
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldGroupID     = "group_id"
	FieldChargeID    = "charge_id"
	FieldRepaymentID = "repayment_id"
	FieldCurrency    = "currency"
	FieldAmountCents = "amount_cents"
	FieldSplitPolicy = "split_policy"
	FieldEventType   = "event_type"
	FieldEventID     = "event_id"
	FieldSheetsRef   = "sheets_ref"
	FieldReason      = "reason"
)

const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentCharge    = "charge"
	ComponentBalance   = "balance"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentCLI       = "cli"
)

const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpExport   = "export"
	OpPublish  = "publish"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// Fields builds slog key/value pairs.
type Fields map[string]any

func NewFields() Fields {
	return make(Fields)
}

func (f Fields) WithComponent(component string) Fields {
	f[FieldComponent] = component
	return f
}

func (f Fields) WithRequestID(requestID string) Fields {
	f[FieldRequestID] = requestID
	return f
}

func (f Fields) WithError(err error) Fields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f Fields) WithOperation(op string) Fields {
	f[FieldOperation] = op
	return f
}

func (f Fields) WithGroup(id core.GroupID) Fields {
	f[FieldGroupID] = int64(id)
	return f
}

func (f Fields) WithUser(id core.UserID) Fields {
	f[FieldUserID] = int64(id)
	return f
}

// WithCharge adds the identifying fields of a charge.
func (f Fields) WithCharge(c core.Charge) Fields {
	f[FieldChargeID] = int64(c.ID)
	f[FieldGroupID] = int64(c.GroupID)
	f[FieldAmountCents] = c.Amount.Cents
	f[FieldCurrency] = string(c.Amount.Currency)
	if len(c.Splits) > 0 {
		f[FieldSplitPolicy] = string(c.Splits[0].Policy)
	}
	return f
}

func (f Fields) WithRepayment(r core.Repayment) Fields {
	f[FieldRepaymentID] = int64(r.ID)
	f[FieldGroupID] = int64(r.GroupID)
	f[FieldAmountCents] = r.Amount.Cents
	f[FieldCurrency] = string(r.Amount.Currency)
	return f
}

func (f Fields) WithHTTPRequest(method, path, userAgent string) Fields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldUserAgent] = userAgent
	return f
}

func (f Fields) WithHTTPResponse(statusCode int, durationMs int64) Fields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	return f
}

// ToSlice flattens the fields for slog. The component key is left to the
// Logger so it is not written twice.
func (f Fields) ToSlice() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		if k == FieldComponent {
			continue
		}
		out = append(out, k, v)
	}
	return out
}
