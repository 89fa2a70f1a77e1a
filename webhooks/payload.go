package webhooks

import (
	"encoding/json"
	"strconv"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/providers/flutterwave"
	"github.com/food-bundles/food-bundles-bn-sub001/providers/paypack"
)

// Notification is a provider callback reduced to what reconciliation needs.
type Notification struct {
	Provider          string
	Reference         string
	ProviderReference string
	TransactionID     string
	Status            payments.Status
	Message           string
}

// refs lists the references to match on, most specific first.
func (n Notification) refs() []string {
	return []string{n.Reference, n.ProviderReference, n.TransactionID}
}

type flutterwaveEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID             int64  `json:"id"`
		TxRef          string `json:"tx_ref"`
		FlwRef         string `json:"flw_ref"`
		Status         string `json:"status"`
		ProcessorReply string `json:"processor_response"`
	} `json:"data"`
}

type paypackEvent struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	Data    struct {
		Ref    string `json:"ref"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
		Client string `json:"client"`
	} `json:"data"`
}

func parse(provider string, body []byte) (Notification, error) {
	switch provider {
	case flutterwave.Name:
		var ev flutterwaveEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return Notification{}, apperr.Wrap(apperr.CodeValidation, err, "malformed flutterwave payload")
		}
		n := Notification{
			Provider:          provider,
			Reference:         ev.Data.TxRef,
			ProviderReference: ev.Data.FlwRef,
			Status:            flutterwave.NormalizeStatus(ev.Data.Status),
			Message:           ev.Data.ProcessorReply,
		}
		if ev.Data.ID != 0 {
			n.TransactionID = strconv.FormatInt(ev.Data.ID, 10)
		}
		return n, nil
	case paypack.Name:
		var ev paypackEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return Notification{}, apperr.Wrap(apperr.CodeValidation, err, "malformed paypack payload")
		}
		return Notification{
			Provider:          provider,
			ProviderReference: ev.Data.Ref,
			TransactionID:     ev.Data.Ref,
			Status:            paypack.NormalizeStatus(ev.Data.Status),
		}, nil
	}
	return Notification{}, apperr.Validation("unknown provider %q", provider)
}
