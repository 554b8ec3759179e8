//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/sequence"
	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/warehouse"
)

const watchQueue = "warehouse-integration-watch"

func TestWarehouseIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgC, dbURL := startPostgres(ctx, t)
	defer terminateContainer(t, pgC)

	rabbitC, rabbitURL := startRabbitMQ(ctx, t)
	defer terminateContainer(t, rabbitC)

	require.NoError(t, db.RunMigrations(dbURL, zap.NewNop()))

	app := startWarehouseService(ctx, t, dbURL, rabbitURL)
	defer app.stop()

	watchConn := dialAMQP(ctx, t, rabbitURL)
	defer watchConn.Close()
	bindWatchQueue(t, watchConn)

	client := &http.Client{Timeout: 5 * time.Second}

	var added struct {
		Success bool               `json:"success"`
		Model   *warehouse.Product `json:"model"`
	}
	postJSON(ctx, t, client, app.baseURL+"/api/warehouse/add", map[string]any{"name": "crate", "inStockQuantity": 10}, &added)
	require.True(t, added.Success)
	require.NotNil(t, added.Model)
	id := added.Model.ID

	created := waitForEvent(ctx, t, watchConn, events.EventTypeProductCreated)
	require.Equal(t, fmt.Sprintf("product-%d", id), created.PartitionKey)
	require.Equal(t, int64(1), created.Sequence)

	var res struct {
		Success     bool   `json:"success"`
		ErrorReason string `json:"errorReason"`
	}
	postJSON(ctx, t, client, app.baseURL+"/api/warehouse/order", map[string]any{"id": id, "quantity": 4}, &res)
	require.True(t, res.Success)

	changed := waitForEvent(ctx, t, watchConn, events.EventTypeStockChanged)
	require.Equal(t, int64(2), changed.Sequence)

	postJSON(ctx, t, client, app.baseURL+"/api/warehouse/order", map[string]any{"id": id, "quantity": 7}, &res)
	require.False(t, res.Success)
	require.Equal(t, string(warehouse.NotEnoughQuantity), res.ErrorReason)

	publishCommand(ctx, t, watchConn, 1, events.StockCommand{Action: warehouse.OperationRestock, ID: id, Quantity: 5})
	waitForEvent(ctx, t, watchConn, events.EventTypeStockChanged)
	waitForProduct(ctx, t, client, app.baseURL, id, warehouse.Product{ID: id, Name: "crate", InStockQuantity: 15, ReservedQuantity: 4})

	publishCommand(ctx, t, watchConn, 2, events.StockCommand{Action: warehouse.OperationShip, ID: id, Quantity: 50})
	rejected := waitForEvent(ctx, t, watchConn, events.EventTypeStockRejected)
	var payload events.StockRejectedPayload
	require.NoError(t, json.Unmarshal(rejected.Payload, &payload))
	require.Equal(t, warehouse.NotEnoughQuantity, payload.ErrorReason)

	// replayed command is skipped by the checkpoint
	publishCommand(ctx, t, watchConn, 1, events.StockCommand{Action: warehouse.OperationRestock, ID: id, Quantity: 5})
	publishCommand(ctx, t, watchConn, 3, events.StockCommand{Action: warehouse.OperationShip, ID: id, Quantity: 4})
	waitForEvent(ctx, t, watchConn, events.EventTypeStockChanged)
	waitForProduct(ctx, t, client, app.baseURL, id, warehouse.Product{ID: id, Name: "crate", InStockQuantity: 11, ReservedQuantity: 0})
}

type warehouseApp struct {
	baseURL string
	stop    func()
}

func startWarehouseService(ctx context.Context, t *testing.T, dbURL, rabbitURL string) *warehouseApp {
	t.Helper()

	pool, err := db.NewPool(ctx, dbURL)
	require.NoError(t, err)

	conn := dialAMQP(ctx, t, rabbitURL)
	logger := zap.NewNop()

	publisher, err := events.NewPublisher(conn, sequence.NewPostgres(pool), events.PublisherOptions{PublishEnveloped: true})
	require.NoError(t, err)

	svc := warehouse.NewService(warehouse.NewPostgresRepository(pool), publisher, logger)

	serviceCtx, cancel := context.WithCancel(ctx)
	consumer, err := events.StartStockCommandConsumer(serviceCtx, conn, svc, dedup.NewPostgres(pool), publisher, logger, events.ConsumerOptions{ConsumeEnveloped: true})
	require.NoError(t, err)

	router := httpapi.NewRouter(httpapi.NewHandler(svc, logger), logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return &warehouseApp{
		baseURL: fmt.Sprintf("http://%s", ln.Addr().String()),
		stop: func() {
			cancel()
			_ = consumer.Close()
			_ = publisher.Close()
			_ = conn.Close()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
			pool.Close()

			select {
			case err := <-errCh:
				t.Logf("server error: %v", err)
			default:
			}
		},
	}
}

func startPostgres(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "warehouse"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return container, fmt.Sprintf("postgres://postgres:postgres@%s:%s/warehouse?sslmode=disable", host, mappedPort.Port())
}

func startRabbitMQ(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	return container, fmt.Sprintf("amqp://guest:guest@%s:%s/", host, mappedPort.Port())
}

func terminateContainer(t *testing.T, c testcontainers.Container) {
	t.Helper()
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(terminateCtx))
}

func bindWatchQueue(t *testing.T, conn *amqp.Connection) {
	t.Helper()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.ExchangeDeclare(events.EventsExchange, "topic", true, false, false, false, nil))
	_, err = ch.QueueDeclare(watchQueue, false, true, false, false, nil)
	require.NoError(t, err)
	for _, key := range []string{events.ProductCreatedRoutingKey, events.StockChangedRoutingKey, events.StockRejectedRoutingKey} {
		require.NoError(t, ch.QueueBind(watchQueue, key, events.EventsExchange, false, nil))
	}
}

func postJSON(ctx context.Context, t *testing.T, client *http.Client, url string, in, out any) {
	t.Helper()

	body, err := json.Marshal(in)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func publishCommand(ctx context.Context, t *testing.T, conn *amqp.Connection, seq int64, cmd events.StockCommand) {
	t.Helper()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	payload, err := json.Marshal(cmd)
	require.NoError(t, err)

	body, err := json.Marshal(events.EventEnvelope{
		EventName:     events.EventTypeStockCommand,
		EventVersion:  1,
		EventID:       uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Producer:      "integration-test",
		PartitionKey:  "stock-commands",
		Sequence:      seq,
		OccurredAt:    time.Now().UTC(),
		Schema:        "warehouse.stock.command.v1",
		Payload:       payload,
	})
	require.NoError(t, err)

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, ch.PublishWithContext(pubCtx, events.EventsExchange, events.StockCommandRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}))
}

// waitForEvent drains the watch queue until an event named eventName arrives.
func waitForEvent(ctx context.Context, t *testing.T, conn *amqp.Connection, eventName string) events.EventEnvelope {
	t.Helper()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	backoff := 50 * time.Millisecond
	for {
		select {
		case <-pollCtx.Done():
			t.Fatalf("timed out waiting for %s: %v", eventName, pollCtx.Err())
		default:
		}

		msg, ok, getErr := ch.Get(watchQueue, true)
		require.NoError(t, getErr)
		if ok {
			var env events.EventEnvelope
			require.NoError(t, json.Unmarshal(msg.Body, &env))
			if env.EventName == eventName {
				return env
			}
			continue
		}

		time.Sleep(backoff)
		if backoff < time.Second {
			backoff = min(backoff*2, time.Second)
		}
	}
}

func waitForProduct(ctx context.Context, t *testing.T, client *http.Client, baseURL string, id int64, expected warehouse.Product) {
	t.Helper()

	pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var last warehouse.Product
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-pollCtx.Done():
			t.Fatalf("timed out waiting for product %d to be %+v, last %+v", id, expected, last)
		default:
		}

		req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, fmt.Sprintf("%s/api/warehouse/%d", baseURL, id), nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		func() {
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&last))
		}()

		if last == expected {
			return
		}

		time.Sleep(backoff)
		if backoff < time.Second {
			backoff = min(backoff*2, time.Second)
		}
	}
}

func dialAMQP(ctx context.Context, t *testing.T, rabbitURL string) *amqp.Connection {
	t.Helper()
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := amqp.DialConfig(rabbitURL, amqp.Config{
		Dial: func(network, addr string) (net.Conn, error) {
			return (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 5 * time.Second,
			}).DialContext(dialCtx, network, addr)
		},
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	require.NoError(t, err)
	return conn
}

func TestPostgresRepositoryStoresRawQuantities(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgC, dbURL := startPostgres(ctx, t)
	defer terminateContainer(t, pgC)

	require.NoError(t, db.RunMigrations(dbURL, zap.NewNop()))

	pool, err := db.NewPool(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()

	repo := warehouse.NewPostgresRepository(pool)
	p, err := repo.Insert(ctx, warehouse.Product{Name: "crate", InStockQuantity: 1})
	require.NoError(t, err)

	// Unvalidated writes behave like the memory and Redis stores.
	p.InStockQuantity = 2
	p.ReservedQuantity = 5
	require.NoError(t, repo.UpdateQuantities(ctx, p))
	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p, got)

	// Restocks beyond int32 fit.
	svc := warehouse.NewService(repo, nil, zap.NewNop())
	out, err := svc.RestockItem(ctx, got, 3_000_000_000)
	require.NoError(t, err)
	require.True(t, out.OK())
	got, err = repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 3_000_000_002, got.InStockQuantity)
}
