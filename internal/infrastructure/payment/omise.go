package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/service"
)

const (
	omiseAPIURL = "https://api.omise.co"
	// refundKeyField поле metadata возврата с ключом идемпотентности
	refundKeyField = "idempotency_key"
)

// OmiseGateway авторизует средства без списания (capture=false) и управляет холдом.
// Возвраты идут через REST напрямую: SDK не передаёт ctx и заголовки запроса.
type OmiseGateway struct {
	client    *omise.Client
	http      *http.Client
	apiURL    string
	secretKey string
}

// NewOmiseGateway создаёт клиент Omise по ключам аккаунта. timeout ограничивает каждый вызов.
func NewOmiseGateway(publicKey, secretKey string, timeout time.Duration) (*OmiseGateway, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	c.Client.Timeout = timeout
	return &OmiseGateway{
		client:    c,
		http:      &http.Client{Timeout: timeout},
		apiURL:    omiseAPIURL,
		secretKey: secretKey,
	}, nil
}

// chargeSource определяет, передан токен карты или источник платежа.
func chargeSource(source string) (card, src string, err error) {
	switch {
	case strings.HasPrefix(source, "tokn_"):
		return source, "", nil
	case strings.HasPrefix(source, "src_"):
		return "", source, nil
	}
	return "", "", fmt.Errorf("omise: неизвестный тип источника платежа %q", source)
}

func (g *OmiseGateway) Authorize(ctx context.Context, req service.AuthorizeRequest) (string, error) {
	card, src, err := chargeSource(req.Source)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:      req.AmountCents,
		Currency:    strings.ToLower(req.Currency),
		Card:        card,
		Source:      src,
		Description: req.Description,
		DontCapture: true,
		Metadata:    map[string]any{"booking_id": req.BookingID.String()},
	}
	if err := g.client.Do(ch, op); err != nil {
		return "", fmt.Errorf("omise create charge: %w", err)
	}
	if string(ch.Status) == "failed" {
		return "", chargeFailure(ch)
	}

	logger.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id": req.BookingID,
		"charge_id":  ch.ID,
		"status":     ch.Status,
	}).Info("omise: холд создан")
	return ch.ID, nil
}

func (g *OmiseGateway) Capture(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := &omise.Charge{}
	if err := g.client.Do(ch, &operations.CaptureCharge{ChargeID: ref}); err != nil {
		if alreadyDone(err) {
			return nil
		}
		return fmt.Errorf("omise capture %s: %w", ref, err)
	}
	return nil
}

func (g *OmiseGateway) Reverse(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := &omise.Charge{}
	if err := g.client.Do(ch, &operations.ReverseCharge{ChargeID: ref}); err != nil {
		if alreadyDone(err) {
			return nil
		}
		return fmt.Errorf("omise reverse %s: %w", ref, err)
	}
	return nil
}

type refundObject struct {
	ID       string         `json:"id"`
	Amount   int64          `json:"amount"`
	Metadata map[string]any `json:"metadata"`
}

type refundList struct {
	Data []refundObject `json:"data"`
}

// Refund проводит возврат один раз на ключ: ключ уходит в заголовок Idempotency-Key
// и в metadata, а перед созданием ищется среди уже проведённых возвратов charge.
func (g *OmiseGateway) Refund(ctx context.Context, ref string, amountCents int64, key string) error {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"charge_id": ref,
		"amount":    amountCents,
		"key":       key,
	})

	existing, err := g.findRefund(ctx, ref, key)
	if err != nil {
		return fmt.Errorf("omise refund %s: %w", ref, err)
	}
	if existing != nil {
		log.WithField("refund_id", existing.ID).Info("omise: возврат по ключу уже проведён")
		return nil
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("metadata["+refundKeyField+"]", key)

	var created refundObject
	if err := g.call(ctx, http.MethodPost, refundsPath(ref), form, key, &created); err != nil {
		return fmt.Errorf("omise refund %s: %w", ref, err)
	}
	log.WithField("refund_id", created.ID).Info("omise: возврат создан")
	return nil
}

func (g *OmiseGateway) findRefund(ctx context.Context, ref, key string) (*refundObject, error) {
	var list refundList
	if err := g.call(ctx, http.MethodGet, refundsPath(ref)+"?limit=100&order=reverse_chronological", nil, "", &list); err != nil {
		return nil, err
	}
	for i := range list.Data {
		if v, ok := list.Data[i].Metadata[refundKeyField].(string); ok && v == key {
			return &list.Data[i], nil
		}
	}
	return nil, nil
}

func refundsPath(ref string) string {
	return "/charges/" + url.PathEscape(ref) + "/refunds"
}

// call выполняет запрос к REST API Omise с basic auth по секретному ключу.
func (g *OmiseGateway) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	req.SetBasicAuth(g.secretKey, "")

	res, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

// alreadyDone повторная операция над уже списанным или снятым холдом.
func alreadyDone(err error) bool {
	var oe *omise.Error
	if !errors.As(err, &oe) {
		return false
	}
	return oe.Code == "failed_capture" && strings.Contains(oe.Message, "already") ||
		oe.Code == "failed_reverse" && strings.Contains(oe.Message, "already")
}

func chargeFailure(ch *omise.Charge) error {
	var code, msg string
	if ch.FailureCode != nil {
		code = *ch.FailureCode
	}
	if ch.FailureMessage != nil {
		msg = *ch.FailureMessage
	}
	return fmt.Errorf("omise: charge %s отклонён: %s %s", ch.ID, code, msg)
}
