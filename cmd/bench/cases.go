// README: Acceptance cases; environment, fee quotes, the delivery lifecycle, races and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dropoff/internal/modules/matching"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

// Accra: the hub, a pickup near it and a drop-off in Osu.
var (
	pickup    = []float64{-0.1870, 5.6037}
	riderSpot = []float64{-0.1860, 5.6000}
	dropoff   = map[string]float64{"lat": 5.5560, "lng": -0.1820}
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// filled as the lifecycle cases run
	riderID string
	orderID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: checkTables},
		expect("API: health", http.MethodGet, "/health", nil, http.StatusOK),

		// Fee engine
		expect("Quote: delivery", http.MethodPost, "/api/fees/quote", map[string]any{
			"type": "DELIVERY", "pickupLocation": pickup, "deliveryLocation": dropoff,
			"package": map[string]any{"weight": 2},
		}, http.StatusOK),
		expect("Quote: errand beyond service area -> 400", http.MethodPost, "/api/fees/quote", map[string]any{
			"type": "ERRAND", "deliveryLocation": []float64{-0.1870, 6.1437},
		}, http.StatusBadRequest),
		expect("Quote: shopping beyond service area uses flat rate", http.MethodPost, "/api/fees/quote", map[string]any{
			"type": "SHOPPING", "pickupLocation": pickup, "deliveryLocation": []float64{-0.1870, 6.1437},
			"package": map[string]any{"items": []map[string]any{{"name": "rice", "quantity": 1, "price": 50}}},
		}, http.StatusOK),
		expect("Quote: invalid coordinates -> 400", http.MethodPost, "/api/fees/quote", map[string]any{
			"type": "DELIVERY", "pickupLocation": []float64{456, 123}, "deliveryLocation": dropoff,
		}, http.StatusBadRequest),

		// Lifecycle
		{Name: "Rider: register, go online, report position", Run: registerRider},
		{Name: "Rider: present in GEO index", Run: checkGeoIndex},
		{Name: "Order: create delivery", Run: createOrder},
		{Name: "Order: rider among candidates", Run: checkCandidates},
		{Name: "Order: advance before assignment -> 409", Run: func(ctx context.Context, r *Runner) Result {
			return r.expectOrder(ctx, http.MethodPost, "/advance", map[string]string{"status": "PICKED_UP"}, http.StatusConflict)
		}},
		{Name: "Concurrency: one assignment wins", Run: concurrentAssign},
		{Name: "Order: picked up", Run: func(ctx context.Context, r *Runner) Result {
			return r.expectOrder(ctx, http.MethodPost, "/advance", map[string]string{"status": "PICKED_UP"}, http.StatusOK)
		}},
		{Name: "Order: in transit", Run: func(ctx context.Context, r *Runner) Result {
			return r.expectOrder(ctx, http.MethodPost, "/advance", map[string]string{"status": "IN_TRANSIT"}, http.StatusOK)
		}},
		{Name: "Order: track", Run: func(ctx context.Context, r *Runner) Result {
			return r.expectOrder(ctx, http.MethodGet, "/track", nil, http.StatusOK)
		}},
		{Name: "Order: delivered", Run: func(ctx context.Context, r *Runner) Result {
			return r.expectOrder(ctx, http.MethodPost, "/deliver", nil, http.StatusOK)
		}},
		{Name: "Order: delivered cannot be cancelled -> 409", Run: func(ctx context.Context, r *Runner) Result {
			return r.expectOrder(ctx, http.MethodPost, "/cancel", map[string]string{"reason": "late"}, http.StatusConflict)
		}},
		{Name: "Incentives: delivery points credited", Run: checkIncentives},
		{Name: "Rating: five stars credited once per order", Run: checkRatingOnce},
		{Name: "Cleanup: status for delivered order", Run: func(ctx context.Context, r *Runner) Result {
			return r.expectOrder(ctx, http.MethodGet, "/cleanup-status", nil, http.StatusOK)
		}},
		{Name: "Consistency: event log matches lifecycle", Run: checkEvents},

		// Throughput
		{Name: "Perf: quote throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodPost, "/api/fees/quote", map[string]any{
				"type": "DELIVERY", "pickupLocation": pickup, "deliveryLocation": dropoff,
			})
		}},
		{Name: "Perf: rider position throughput", Run: func(ctx context.Context, r *Runner) Result {
			if r.riderID == "" {
				return Result{Status: StatusSkip, Note: "no rider"}
			}
			return perfLoad(ctx, r, http.MethodPut, "/api/riders/"+r.riderID+"/location", map[string]any{"location": riderSpot})
		}},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	return Result{Status: StatusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: strings.Join(tables, ",")}
}

func registerRider(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, out, err := r.call(ctx, http.MethodPost, "/api/riders", map[string]string{"name": "Bench Rider", "phone": "+233200000001"})
	if err != nil || code != http.StatusCreated {
		return failed(code, err)
	}
	r.riderID, _ = out["id"].(string)
	if code, _, err := r.call(ctx, http.MethodPut, "/api/riders/"+r.riderID+"/status", map[string]string{"status": "ONLINE"}); err != nil || code != http.StatusOK {
		return failed(code, err)
	}
	if code, _, err := r.call(ctx, http.MethodPut, "/api/riders/"+r.riderID+"/location", map[string]any{"location": riderSpot}); err != nil || code != http.StatusOK {
		return failed(code, err)
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: "rider=" + r.riderID}
}

func checkGeoIndex(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	if r.riderID == "" {
		return Result{Status: StatusSkip, Note: "no rider"}
	}
	pos, err := r.redis.GeoPos(ctx, matching.RiderGeoKey, r.riderID).Result()
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if len(pos) == 0 || pos[0] == nil {
		return Result{Status: StatusFail, Note: "rider missing from " + matching.RiderGeoKey}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("lat=%.4f lng=%.4f", pos[0].Latitude, pos[0].Longitude)}
}

func createOrder(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, out, err := r.call(ctx, http.MethodPost, "/api/orders", map[string]any{
		"type":             "DELIVERY",
		"userId":           "bench-customer",
		"pickupLocation":   pickup,
		"deliveryLocation": dropoff,
		"package":          map[string]any{"weight": 2},
	})
	if err != nil || code != http.StatusCreated {
		return failed(code, err)
	}
	r.orderID, _ = out["id"].(string)
	return Result{Status: StatusPass, Latency: time.Since(start), Note: "order=" + r.orderID}
}

func checkCandidates(ctx context.Context, r *Runner) Result {
	if r.orderID == "" || r.riderID == "" {
		return Result{Status: StatusSkip, Note: "no order or rider"}
	}
	code, out, err := r.call(ctx, http.MethodGet, "/api/orders/"+r.orderID+"/candidates", nil)
	if err != nil || code != http.StatusOK {
		return failed(code, err)
	}
	list, _ := out["candidates"].([]any)
	for _, c := range list {
		if m, ok := c.(map[string]any); ok && m["riderId"] == r.riderID {
			return Result{Status: StatusPass, Note: fmt.Sprintf("candidates=%d", len(list))}
		}
	}
	return Result{Status: StatusFail, Note: "rider not offered"}
}

// concurrentAssign fires the same assignment from many clients; exactly
// one may succeed and the rest must see 409.
func concurrentAssign(ctx context.Context, r *Runner) Result {
	if r.orderID == "" || r.riderID == "" {
		return Result{Status: StatusSkip, Note: "no order or rider"}
	}
	var succ, conflict, other atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+r.orderID+"/assign", map[string]string{"riderId": r.riderID})
			switch {
			case err != nil:
				other.Add(1)
			case code == http.StatusOK:
				succ.Add(1)
			case code == http.StatusConflict:
				conflict.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ.Load(), conflict.Load(), other.Load())
	if succ.Load() == 1 && other.Load() == 0 {
		return Result{Status: StatusPass, Note: note}
	}
	return Result{Status: StatusFail, Note: note}
}

func checkIncentives(ctx context.Context, r *Runner) Result {
	if r.riderID == "" {
		return Result{Status: StatusSkip, Note: "no rider"}
	}
	code, out, err := r.call(ctx, http.MethodGet, "/api/riders/"+r.riderID+"/incentives", nil)
	if err != nil || code != http.StatusOK {
		return failed(code, err)
	}
	points, _ := out["currentPoints"].(float64)
	if points < 10 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("currentPoints=%v", points)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("currentPoints=%v tier=%v", points, out["tier"])}
}

func checkRatingOnce(ctx context.Context, r *Runner) Result {
	if r.orderID == "" || r.riderID == "" {
		return Result{Status: StatusSkip, Note: "no order or rider"}
	}
	path := "/api/riders/" + r.riderID + "/ratings"
	body := map[string]any{"orderId": r.orderID, "rating": 5}
	if code, _, err := r.call(ctx, http.MethodPost, path, body); err != nil || code != http.StatusOK {
		return failed(code, err)
	}
	code, _, err := r.call(ctx, http.MethodPost, path, body)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if code != http.StatusConflict {
		return Result{Status: StatusFail, Note: fmt.Sprintf("replay status=%d, want 409", code)}
	}
	return Result{Status: StatusPass}
}

// checkEvents reads the transition log straight from Postgres.
func checkEvents(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	if r.orderID == "" {
		return Result{Status: StatusSkip, Note: "no order"}
	}
	rows, err := r.db.Query(ctx, `SELECT to_status FROM order_state_events WHERE order_id = $1 ORDER BY id`, r.orderID)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		got = append(got, s)
	}
	want := "PENDING,ASSIGNED,PICKED_UP,IN_TRANSIT,DELIVERED"
	if strings.Join(got, ",") != want {
		return Result{Status: StatusFail, Note: "events=" + strings.Join(got, ",")}
	}
	return Result{Status: StatusPass}
}

func expect(name, method, path string, body any, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			code, _, err := r.call(ctx, method, path, body)
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			status := StatusPass
			if code != want {
				status = StatusFail
			}
			return Result{Status: status, Latency: time.Since(start), Note: fmt.Sprintf("status=%d", code)}
		},
	}
}

func (r *Runner) expectOrder(ctx context.Context, method, suffix string, body any, want int) Result {
	if r.orderID == "" {
		return Result{Status: StatusSkip, Note: "no order"}
	}
	return expect("", method, "/api/orders/"+r.orderID+suffix, body, want).Run(ctx, r)
}

func (r *Runner) call(ctx context.Context, method, path string, body any) (int, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, out, nil
}

func failed(code int, err error) Result {
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", code)}
}

func perfLoad(ctx context.Context, r *Runner, method, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, err := r.call(ctx, method, path, payload)
				if err != nil || code >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
