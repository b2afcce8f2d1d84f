package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type orderEvent struct {
	OrderID     string `json:"order_id"`
	BuyerID     string `json:"buyer_id"`
	ChatID      string `json:"chat_id"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
	Status      string `json:"status"`
}

type chatMessage struct {
	ChatID  string `json:"chat_id"`
	BuyerID string `json:"buyer_id"`
	Text    string `json:"text"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	tag := flag.String("tag", "KZ", "country tag written into order descriptions")
	nOrders := flag.Int("orders", 200, "order events to post")
	concurrency := flag.Int("c", 50, "max concurrency")
	watch := flag.Duration("watch", 10*time.Second, "how long to sample dispatcher stats")
	nMessages := flag.Int("messages", 50, "chat messages from a single buyer")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) 准入控制：大量订单瞬间涌入，观察 running 始终不超过上限
	fmt.Printf("start admission test: orders=%d concurrency=%d\n", *nOrders, *concurrency)
	results := runParallel(*nOrders, *concurrency, func(idx int) Result {
		buyer := fmt.Sprintf("buyer-%d", idx+1)
		return postJSON(client, *baseURL+"/api/events/order", orderEvent{
			OrderID:     uuid.New().String()[:8],
			BuyerID:     buyer,
			ChatID:      buyer,
			Description: "Telegram account tg:" + *tag,
			Quantity:    1,
			Price:       "150",
			Status:      "paid",
		})
	})
	printSummary("order_events", results)
	watchStats(client, *baseURL, *watch)

	// 2) 限流：同一买家连续发送取码指令，超过窗口上限返回 429
	fmt.Printf("\nstart rate limit test: same buyer, %d messages\n", *nMessages)
	results2 := runParallel(*nMessages, *concurrency, func(int) Result {
		return postJSON(client, *baseURL+"/api/events/message", chatMessage{
			ChatID:  "buyer-1",
			BuyerID: "buyer-1",
			Text:    "cd",
		})
	})
	printSummary("rate_limit", results2)
}

func runParallel(total, concurrency int, fn func(idx int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}

	wg.Wait()
	return results
}

func postJSON(client *http.Client, url string, body any) Result {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(data)}
}

// watchStats 周期采样 /api/health，记录 running 峰值与队列深度。
func watchStats(client *http.Client, baseURL string, d time.Duration) {
	deadline := time.Now().Add(d)
	peak, samples := 0, 0
	for time.Now().Before(deadline) {
		stats, err := getStats(client, baseURL)
		if err != nil {
			fmt.Println("stats err:", err)
		} else {
			samples++
			if stats.Running > peak {
				peak = stats.Running
			}
			fmt.Printf("  queued=%d running=%d processed=%d\n", stats.Queued, stats.Running, stats.Processed)
		}
		time.Sleep(500 * time.Millisecond)
	}
	fmt.Printf("[dispatcher] samples=%d peak running=%d\n", samples, peak)
}

type dispatcherStats struct {
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Processed int64 `json:"processed"`
}

func getStats(client *http.Client, baseURL string) (dispatcherStats, error) {
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return dispatcherStats{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return dispatcherStats{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Dispatcher dispatcherStats `json:"dispatcher"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return dispatcherStats{}, err
	}
	return out.Data.Dispatcher, nil
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 202, 400, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
