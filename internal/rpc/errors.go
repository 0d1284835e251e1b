package rpc

import (
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kkkkikiki/leadpool/internal/service"
)

var denialCodes = map[service.Reason]connect.Code{
	service.ReasonEmptyInput:          connect.CodeInvalidArgument,
	service.ReasonNotWhitelisted:      connect.CodePermissionDenied,
	service.ReasonQuotaExhausted:      connect.CodeResourceExhausted,
	service.ReasonPoolExhausted:       connect.CodeResourceExhausted,
	service.ReasonCooldownActive:      connect.CodeFailedPrecondition,
	service.ReasonNotYetAssigned:      connect.CodeFailedPrecondition,
	service.ReasonNumberNotInBatch:    connect.CodeFailedPrecondition,
	service.ReasonNumberOwnedByOther:  connect.CodeFailedPrecondition,
	service.ReasonAlreadyUploaded:     connect.CodeFailedPrecondition,
	service.ReasonNumberNotInAnyBatch: connect.CodeFailedPrecondition,
}

// toConnectError converts service errors into Connect errors. Denials keep
// their reason in a google.protobuf.Struct detail; anything else is internal.
func toConnectError(err error, op string) error {
	d, ok := service.AsDenial(err)
	if !ok {
		return connect.NewError(connect.CodeInternal, fmt.Errorf("failed to %s: %w", op, err))
	}

	code, known := denialCodes[d.Reason]
	if !known {
		code = connect.CodeFailedPrecondition
	}
	cerr := connect.NewError(code, err)

	fields, ferr := structpb.NewStruct(map[string]any{
		"reason":       string(d.Reason),
		"wait_minutes": d.WaitMinutes,
		"phone":        d.Phone,
		"owner":        d.Owner,
	})
	if ferr != nil {
		return cerr
	}
	if detail, derr := connect.NewErrorDetail(fields); derr == nil {
		cerr.AddDetail(detail)
	}
	return cerr
}

// Denial is the decoded form of a denial error detail
type Denial struct {
	Code        connect.Code
	Reason      service.Reason
	WaitMinutes int
	Phone       string
	Owner       string
}

// DenialFromError extracts the denial detail from a Connect error returned
// by a client call.
func DenialFromError(err error) (*Denial, bool) {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return nil, false
	}
	for _, detail := range cerr.Details() {
		msg, verr := detail.Value()
		if verr != nil {
			continue
		}
		fields, ok := msg.(*structpb.Struct)
		if !ok {
			continue
		}
		m := fields.AsMap()
		reason, _ := m["reason"].(string)
		if reason == "" {
			continue
		}
		d := &Denial{Code: cerr.Code(), Reason: service.Reason(reason)}
		if wait, ok := m["wait_minutes"].(float64); ok {
			d.WaitMinutes = int(wait)
		}
		d.Phone, _ = m["phone"].(string)
		d.Owner, _ = m["owner"].(string)
		return d, true
	}
	return nil, false
}
