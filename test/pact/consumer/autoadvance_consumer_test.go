//go:build pact
// +build pact

package consumer_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	pactconsumer "github.com/pact-foundation/pact-go/v2/consumer"
	pactlog "github.com/pact-foundation/pact-go/v2/log"
	"github.com/pact-foundation/pact-go/v2/matchers"
	"github.com/stretchr/testify/require"

	ordersclient "github.com/Apurer/order-autoadvance/internal/clients/http/orders"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
	pacttest "github.com/Apurer/order-autoadvance/test/pact"
)

func orderMatcher(status string, version int64) matchers.Map {
	return matchers.Map{
		"id":                  matchers.Like(pacttest.ExistingOrderID),
		"number":              matchers.Like(pacttest.ExampleOrderNumber),
		"status":              matchers.Term(status, "received|preparing|ready|completed|cancelled"),
		"statusEnteredAt":     matchers.Like(pacttest.ExampleTimestamp),
		"autoAdvanceEligible": matchers.Like(true),
		"version":             matchers.Like(version),
		"createdAt":           matchers.Like(pacttest.ExampleTimestamp),
		"updatedAt":           matchers.Like(pacttest.ExampleTimestamp),
	}
}

func TestAutoAdvanceContract(t *testing.T) {
	pactlog.SetLogLevel("INFO")

	pact, err := pactconsumer.NewV2Pact(pactconsumer.MockHTTPProviderConfig{
		Consumer: pacttest.ConsumerName,
		Provider: pacttest.ProviderName,
		PactDir:  pacttest.PactDir(t),
		LogDir:   pacttest.LogDir(t),
	})
	require.NoError(t, err)

	jsonContentType := matchers.Regex("application/json; charset=utf-8", "application\\/json(?:;\\s?charset=utf-8)?")
	problemContentType := matchers.S("application/problem+json")
	statusPath := fmt.Sprintf("/v1/orders/%d/status", pacttest.ExistingOrderID)

	pact.AddInteraction().
		Given(pacttest.StateActiveOrders).
		UponReceiving("a request for the active orders").
		WithRequest(http.MethodGet, "/v1/orders/active").
		WillRespondWith(http.StatusOK, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(matchers.Map{"orders": matchers.EachLike(orderMatcher("received", 1), 1)})
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderReceived).
		UponReceiving("an automatic advance from received to preparing").
		WithRequest(http.MethodPatch, statusPath, func(b *pactconsumer.V2RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.JSONBody(matchers.Map{
				"status":          matchers.S("preparing"),
				"expectedVersion": matchers.Like(1),
				"source":          matchers.S("auto"),
			})
		}).
		WillRespondWith(http.StatusOK, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(orderMatcher("preparing", 2))
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderMoved).
		UponReceiving("an advance against a stale version").
		WithRequest(http.MethodPatch, statusPath, func(b *pactconsumer.V2RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.JSONBody(matchers.Map{
				"status":          matchers.S("preparing"),
				"expectedVersion": matchers.Like(1),
				"source":          matchers.S("auto"),
			})
		}).
		WillRespondWith(http.StatusConflict, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", problemContentType)
			b.JSONBody(matchers.Map{
				"type":       matchers.S("/problems/conflict"),
				"status":     matchers.Like(http.StatusConflict),
				"extensions": matchers.Map{"current": orderMatcher("preparing", 2)},
			})
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderMissing).
		UponReceiving("an advance for a missing order").
		WithRequest(http.MethodPatch, fmt.Sprintf("/v1/orders/%d/status", pacttest.MissingOrderID), func(b *pactconsumer.V2RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.JSONBody(matchers.Map{
				"status":          matchers.S("preparing"),
				"expectedVersion": matchers.Like(1),
				"source":          matchers.S("auto"),
			})
		}).
		WillRespondWith(http.StatusNotFound, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", problemContentType)
			b.JSONBody(matchers.Map{
				"type":   matchers.S("/problems/not-found"),
				"status": matchers.Like(http.StatusNotFound),
			})
		})

	err = pact.ExecuteTest(t, func(config pactconsumer.MockServerConfig) error {
		client, err := ordersclient.NewClient(fmt.Sprintf("http://%s:%d", config.Host, config.Port))
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		orders, err := client.FetchActiveOrders(ctx)
		if err != nil {
			return fmt.Errorf("fetch active orders: %w", err)
		}
		if len(orders) == 0 || orders[0].Status != domain.StatusReceived {
			return fmt.Errorf("unexpected active orders %+v", orders)
		}

		update := ports.StatusUpdate{
			OrderID:         pacttest.ExistingOrderID,
			Target:          domain.StatusPreparing,
			ExpectedVersion: 1,
			Source:          domain.SourceAuto,
			TransitionID:    "pact-transition",
		}
		advanced, err := client.UpdateOrderStatus(ctx, update)
		if err != nil {
			return fmt.Errorf("advance order: %w", err)
		}
		if advanced.Status != domain.StatusPreparing || advanced.Version != 2 {
			return fmt.Errorf("unexpected advanced order %+v", advanced)
		}

		_, err = client.UpdateOrderStatus(ctx, update)
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) || conflict.Current == nil || conflict.Current.Version != 2 {
			return fmt.Errorf("expected conflict carrying current order, got %v", err)
		}

		update.OrderID = pacttest.MissingOrderID
		if _, err := client.UpdateOrderStatus(ctx, update); !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("expected not found, got %v", err)
		}
		return nil
	})
	require.NoError(t, err)
}
