//go:build ignore

// Package main generates synthetic chat history for backfill benchmarking.
// Each output file holds one JSON array of messages, newest batch last.
// Usage: go run scripts/generate-chat-corpus.go -batches 50 -size 1000 -output testdata/corpus
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	numBatches = flag.Int("batches", 50, "Number of batch files to generate")
	batchSize  = flag.Int("size", 1000, "Messages per batch")
	senders    = flag.Int("senders", 20, "Distinct senders")
	threads    = flag.Int("threads", 100, "Distinct threads")
	days       = flag.Int("days", 60, "Days of history to spread messages over")
	outputDir  = flag.String("output", "testdata/corpus", "Output directory")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// record mirrors the wire format the index accepts.
type record struct {
	MessageID          string   `json:"messageId"`
	ThreadID           string   `json:"threadId"`
	IngestionDate      string   `json:"ingestionDate"`
	SenderID           string   `json:"senderId"`
	ChatType           string   `json:"chatType"`
	IsPublic           string   `json:"isPublic"`
	SendingApp         string   `json:"sendingApp"`
	Text               string   `json:"text"`
	AttachmentFileType string   `json:"attachmentFileType,omitempty"`
	AttachmentNames    []string `json:"attachmentNames,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

var (
	words = strings.Fields(`meeting budget report draft review lunch deploy release
		invoice contract schedule agenda design roadmap incident outage customer
		quarterly forecast hiring onboarding travel expenses approval feedback
		launch metrics dashboard backlog sprint retro demo proposal deadline`)
	tags      = []string{"urgent", "ops", "finance", "hr", "eng", "sales"}
	fileTypes = []string{"pdf", "docx", "xlsx", "png", "jpg"}
	apps      = []string{"desktop", "mobile", "web"}
	chatTypes = []string{"direct", "group", "channel"}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	total := *numBatches * *batchSize
	start := time.Now().Add(-time.Duration(*days) * 24 * time.Hour)
	step := time.Duration(*days) * 24 * time.Hour / time.Duration(max(total, 1))

	n := 0
	for b := 0; b < *numBatches; b++ {
		batch := make([]record, 0, *batchSize)
		for i := 0; i < *batchSize; i++ {
			batch = append(batch, generate(rng, n, start.Add(time.Duration(n)*step)))
			n++
		}
		data, err := json.Marshal(batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode batch %d: %v\n", b, err)
			os.Exit(1)
		}
		path := filepath.Join(*outputDir, fmt.Sprintf("batch-%05d.json", b))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generated %d messages in %d batches under %s\n", total, *numBatches, *outputDir)
}

func generate(rng *rand.Rand, n int, at time.Time) record {
	r := record{
		MessageID:     fmt.Sprintf("msg-%08d", n),
		ThreadID:      fmt.Sprintf("thread-%04d", rng.Intn(*threads)),
		IngestionDate: strconv.FormatInt(at.UnixMilli(), 10),
		SenderID:      fmt.Sprintf("user-%03d", rng.Intn(*senders)),
		ChatType:      chatTypes[rng.Intn(len(chatTypes))],
		IsPublic:      strconv.FormatBool(rng.Intn(4) == 0),
		SendingApp:    apps[rng.Intn(len(apps))],
	}

	text := make([]string, 3+rng.Intn(12))
	for i := range text {
		text[i] = words[rng.Intn(len(words))]
	}
	r.Text = strings.Join(text, " ")

	if rng.Intn(10) == 0 {
		ft := fileTypes[rng.Intn(len(fileTypes))]
		r.AttachmentFileType = ft
		r.AttachmentNames = []string{fmt.Sprintf("%s-%d.%s", text[0], n, ft)}
	}
	if rng.Intn(5) == 0 {
		r.Tags = []string{tags[rng.Intn(len(tags))]}
	}
	return r
}
