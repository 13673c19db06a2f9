package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// DockerContainer represents a Docker container used for testing
type DockerContainer struct {
	ID        string
	Name      string
	Type      string
	Port      string
	HostPort  string
	StartedAt time.Time
}

// StartRedisContainer starts a Redis container for testing
func StartRedisContainer(ctx context.Context) (*DockerContainer, error) {
	containerName := fmt.Sprintf("batchingo-redis-test-%d", time.Now().Unix())
	hostPort := "6380"

	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", containerName,
		"-p", hostPort+":6379",
		"redis:alpine")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w, output: %s", err, output)
	}

	container := &DockerContainer{
		ID:        strings.TrimSpace(string(output)),
		Name:      containerName,
		Type:      "redis",
		Port:      "6379",
		HostPort:  hostPort,
		StartedAt: time.Now(),
	}

	// Wait for Redis to be ready
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("localhost:%s", hostPort),
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for {
		select {
		case <-pingCtx.Done():
			_ = container.Stop(ctx)
			return nil, fmt.Errorf("timed out waiting for Redis to be ready")
		default:
			if _, err := redisClient.Ping(pingCtx).Result(); err == nil {
				return container, nil
			}
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// StartKafkaContainer starts a Kafka container (plus its Zookeeper) for testing
func StartKafkaContainer(ctx context.Context) (*DockerContainer, error) {
	containerName := fmt.Sprintf("batchingo-kafka-test-%d", time.Now().Unix())
	hostPort := "9092"

	zookeeperName := fmt.Sprintf("batchingo-zookeeper-test-%d", time.Now().Unix())
	zkCmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", zookeeperName,
		"-e", "ZOOKEEPER_CLIENT_PORT=2181",
		"confluentinc/cp-zookeeper:latest")

	output, err := zkCmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start Zookeeper container: %w, output: %s", err, output)
	}
	zookeeperID := strings.TrimSpace(string(output))

	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", containerName,
		"--link", zookeeperName+":zookeeper",
		"-p", hostPort+":9092",
		"-e", "KAFKA_ZOOKEEPER_CONNECT=zookeeper:2181",
		"-e", "KAFKA_ADVERTISED_LISTENERS=PLAINTEXT://localhost:"+hostPort,
		"-e", "KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR=1",
		"confluentinc/cp-kafka:latest")

	output, err = cmd.CombinedOutput()
	if err != nil {
		zkCleanup := exec.CommandContext(ctx, "docker", "rm", "-f", zookeeperID)
		_ = zkCleanup.Run()
		return nil, fmt.Errorf("failed to start Kafka container: %w, output: %s", err, output)
	}

	container := &DockerContainer{
		ID:        strings.TrimSpace(string(output)),
		Name:      containerName,
		Type:      "kafka",
		Port:      "9092",
		HostPort:  hostPort,
		StartedAt: time.Now(),
	}

	// Creating the test topic succeeds only once the broker is up
	for i := 0; i < 40; i++ {
		select {
		case <-ctx.Done():
			zkCleanup := exec.CommandContext(context.Background(), "docker", "rm", "-f", zookeeperID)
			_ = zkCleanup.Run()
			_ = container.Stop(context.Background())
			return nil, ctx.Err()
		default:
			createTopicCmd := exec.CommandContext(
				ctx,
				"docker", "exec", containerName,
				"kafka-topics", "--create",
				"--bootstrap-server", "localhost:9092",
				"--replication-factor", "1",
				"--partitions", "1",
				"--topic", "batchingo-test",
			)
			if err := createTopicCmd.Run(); err == nil {
				return container, nil
			}
			time.Sleep(1 * time.Second)
		}
	}

	zkCleanup := exec.CommandContext(context.Background(), "docker", "rm", "-f", zookeeperID)
	_ = zkCleanup.Run()
	_ = container.Stop(context.Background())
	return nil, fmt.Errorf("timed out waiting for Kafka to be ready")
}

// Stop stops and removes the Docker container
func (c *DockerContainer) Stop(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", c.ID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w, output: %s", c.ID, err, output)
	}

	// Kafka containers have a linked Zookeeper to clean up too
	if c.Type == "kafka" {
		cmd := exec.CommandContext(ctx, "docker", "ps", "-a", "--filter", "name=batchingo-zookeeper-test", "--format", "{{.ID}}")
		output, err := cmd.CombinedOutput()
		if err == nil && len(output) > 0 {
			for _, zkID := range strings.Fields(string(output)) {
				zkCleanup := exec.CommandContext(ctx, "docker", "rm", "-f", strings.TrimSpace(zkID))
				_ = zkCleanup.Run()
			}
		}
	}

	return nil
}

// WithRedisOnly starts a Redis container, runs the test against it, and
// cleans up afterwards. The test is skipped when Docker is unavailable.
func WithRedisOnly(t testing.TB, testFunc func(redisAddr string)) {
	t.Helper()
	ctx := context.Background()

	redisContainer, err := StartRedisContainer(ctx)
	if err != nil {
		t.Skip("Skipping test: could not start Redis container:", err)
		return
	}
	t.Cleanup(func() {
		_ = redisContainer.Stop(context.Background())
	})

	testFunc(fmt.Sprintf("localhost:%s", redisContainer.HostPort))
}

// WithKafkaOnly starts a Kafka container, runs the test against it, and
// cleans up afterwards
func WithKafkaOnly(t testing.TB, testFunc func(kafkaAddr string)) {
	t.Helper()
	ctx := context.Background()

	kafkaContainer, err := StartKafkaContainer(ctx)
	if err != nil {
		t.Skip("Skipping test: could not start Kafka container:", err)
		return
	}
	t.Cleanup(func() {
		_ = kafkaContainer.Stop(context.Background())
	})

	testFunc(fmt.Sprintf("localhost:%s", kafkaContainer.HostPort))
}

// WithTestDependencies starts Redis and Kafka containers for a test
func WithTestDependencies(t testing.TB, testFunc func(redisAddr, kafkaAddr string)) {
	t.Helper()
	ctx := context.Background()

	redisContainer, err := StartRedisContainer(ctx)
	if err != nil {
		t.Skip("Skipping test: could not start Redis container:", err)
		return
	}

	kafkaContainer, err := StartKafkaContainer(ctx)
	if err != nil {
		_ = redisContainer.Stop(ctx)
		t.Skip("Skipping test: could not start Kafka container:", err)
		return
	}

	t.Cleanup(func() {
		_ = redisContainer.Stop(context.Background())
		_ = kafkaContainer.Stop(context.Background())
	})

	testFunc(
		fmt.Sprintf("localhost:%s", redisContainer.HostPort),
		fmt.Sprintf("localhost:%s", kafkaContainer.HostPort),
	)
}

// DependencyType specifies which dependencies are needed for a test
type DependencyType int

const (
	// NoDependencies indicates that no external dependencies are needed
	NoDependencies DependencyType = iota
	// RedisOnly indicates that only Redis is needed
	RedisOnly
	// KafkaOnly indicates that only Kafka is needed
	KafkaOnly
	// RedisAndKafka indicates that both Redis and Kafka are needed
	RedisAndKafka
)

// WithDependencies runs a test with the specified dependencies.
// It automatically sets up and tears down the required containers.
func WithDependencies(t testing.TB, depType DependencyType, testFunc interface{}) {
	t.Helper()

	switch depType {
	case NoDependencies:
		tf, ok := testFunc.(func())
		if !ok {
			t.Errorf("Invalid function type for NoDependencies: expected func(), got %T", testFunc)
			return
		}
		tf()

	case RedisOnly:
		tf, ok := testFunc.(func(redisAddr string))
		if !ok {
			t.Errorf("Invalid function type for RedisOnly: expected func(string), got %T", testFunc)
			return
		}
		WithRedisOnly(t, tf)

	case KafkaOnly:
		tf, ok := testFunc.(func(kafkaAddr string))
		if !ok {
			t.Errorf("Invalid function type for KafkaOnly: expected func(string), got %T", testFunc)
			return
		}
		WithKafkaOnly(t, tf)

	case RedisAndKafka:
		tf, ok := testFunc.(func(redisAddr, kafkaAddr string))
		if !ok {
			t.Errorf("Invalid function type for RedisAndKafka: expected func(string, string), got %T", testFunc)
			return
		}
		WithTestDependencies(t, tf)

	default:
		t.Errorf("Unknown dependency type: %v", depType)
	}
}

// RunIntegrationTest starts Redis and Kafka containers and hands their
// addresses to an end-to-end test function
func RunIntegrationTest(t testing.TB, testFunc func(redisAddr, kafkaAddr string)) {
	t.Helper()

	t.Logf("Starting Redis and Kafka containers for integration testing...")

	WithTestDependencies(t, func(redisAddr, kafkaAddr string) {
		t.Logf("Redis available at: %s", redisAddr)
		t.Logf("Kafka available at: %s", kafkaAddr)

		testFunc(redisAddr, kafkaAddr)

		t.Logf("Integration test completed, cleaning up containers...")
	})
}
