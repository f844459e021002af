// Package util provides helper functions shared across integration tests.
//
// Each Start* helper launches a disposable container with testcontainers and
// returns an address for it together with a cleanup function. Tests calling
// them should first call RequireDocker.
//
// WaitForMetric polls a Prometheus metrics endpoint until the desired metric
// appears in the output.
package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// Default timeouts for helper operations
	MosquittoReadyTimeout = 5 * time.Second
	MetricTimeout         = 5 * time.Second
	ContainerTimeout      = 60 * time.Second

	pollInterval = 50 * time.Millisecond
)

// RequireDocker skips the test in -short mode or when DOCKER_AVAILABLE is
// not set.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if v := os.Getenv("DOCKER_AVAILABLE"); v != "true" && v != "1" {
		t.Skip("docker not available")
	}
}

// WaitForMetric polls the given metrics URL until the provided substring is
// found in the output or the context is done.
func WaitForMetric(ctx context.Context, metricsURL, substr string) error {
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, metricsURL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			body, rerr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if rerr != nil {
				return fmt.Errorf("read metrics body: %w", rerr)
			}
			if strings.Contains(string(body), substr) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("metric %q not found: %w", substr, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func startContainer(ctx context.Context, req tc.ContainerRequest, port string) (tc.Container, string, error) {
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return nil, "", err
	}
	host, err := cont.Host(ctx)
	if err != nil {
		_ = cont.Terminate(context.Background())
		return nil, "", err
	}
	mapped, err := cont.MappedPort(ctx, nat.Port(port))
	if err != nil {
		_ = cont.Terminate(context.Background())
		return nil, "", err
	}
	return cont, fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

// StartPostgres launches a PostgreSQL server and returns a pgx DSN.
func StartPostgres(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "mes",
			"POSTGRES_PASSWORD": "mes",
			"POSTGRES_DB":       "mes",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(ContainerTimeout),
	}
	cont, addr, err := startContainer(ctx, req, "5432")
	if err != nil {
		return "", nil, err
	}
	dsn := fmt.Sprintf("postgres://mes:mes@%s/mes?sslmode=disable", addr)
	return dsn, func() { _ = cont.Terminate(context.Background()) }, nil
}

// StartRedis launches a Redis server and returns its host:port address.
func StartRedis(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(ContainerTimeout),
	}
	cont, addr, err := startContainer(ctx, req, "6379")
	if err != nil {
		return "", nil, err
	}
	return addr, func() { _ = cont.Terminate(context.Background()) }, nil
}

// Influx credentials provisioned by StartInflux.
const (
	InfluxOrg    = "mes"
	InfluxBucket = "mes"
	InfluxToken  = "mes-e2e-token"
)

// StartInflux launches InfluxDB 2.7 already set up with InfluxOrg,
// InfluxBucket and InfluxToken, and returns its base URL.
func StartInflux(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "mes",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "mes-password",
			"DOCKER_INFLUXDB_INIT_ORG":         InfluxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      InfluxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": InfluxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(ContainerTimeout),
	}
	cont, addr, err := startContainer(ctx, req, "8086")
	if err != nil {
		return "", nil, err
	}
	return "http://" + addr, func() { _ = cont.Terminate(context.Background()) }, nil
}

// StartMosquitto launches a temporary Mosquitto broker inside a Docker
// container and returns its broker URL along with a cleanup function.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	conf := `listener 1883
allow_anonymous true
persistence false
log_dest stdout
connection_messages true
`

	dir, err := os.MkdirTemp("", "mosq")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0644,
			},
		},
	}
	cont, addr, err := startContainer(ctx, req, "1883")
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	cleanup := func() {
		_ = cont.Terminate(context.Background())
		_ = os.RemoveAll(dir)
	}
	broker := "tcp://" + addr

	waitCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := waitForMQTTReady(waitCtx, broker); err != nil {
		cleanup()
		return "", nil, err
	}
	return broker, cleanup, nil
}

func waitForMQTTReady(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	for {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
