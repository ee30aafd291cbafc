// Package testdb provides a migrated MySQL database for integration tests.
package testdb

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/models"
	"gorm.io/gorm"
)

var (
	once    sync.Once
	shared  *gorm.DB
	openErr error
)

// Open skips the test unless INTEGRATION_TESTS is set. It connects to
// TEST_MYSQL_DSN when given, otherwise starts a throwaway MySQL container,
// migrates the schema once per process and installs the handle as the
// process-wide DB.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires TEST_MYSQL_DSN or docker)")
	}
	once.Do(func() {
		dsn := strings.TrimSpace(os.Getenv("TEST_MYSQL_DSN"))
		if dsn == "" {
			dsn, openErr = startMySQLContainer()
			if openErr != nil {
				return
			}
		}
		var conn *gorm.DB
		deadline := time.Now().Add(90 * time.Second)
		for {
			conn, openErr = config.ConnectDatabase(dsn)
			if openErr == nil {
				if sqlDB, err := conn.DB(); err == nil {
					openErr = sqlDB.Ping()
				}
			}
			if openErr == nil || time.Now().After(deadline) {
				break
			}
			time.Sleep(time.Second)
		}
		if openErr != nil {
			return
		}
		if openErr = models.Migrate(conn); openErr != nil {
			return
		}
		config.SetDB(conn)
		shared = conn
	})
	if openErr != nil {
		t.Fatalf("open test database: %v", openErr)
	}
	return shared
}

func startMySQLContainer() (string, error) {
	name := fmt.Sprintf("purchase-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--rm", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=purchase_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
	)
	if err != nil {
		return "", fmt.Errorf("start mysql container: %w\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return fmt.Sprintf("root:testpw@tcp(127.0.0.1:%s)/purchase_test?charset=utf8mb4&parseTime=True&loc=UTC&transaction_isolation=%%27READ-COMMITTED%%27", port), nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return "", fmt.Errorf("mysql container %s did not become ready", name)
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
