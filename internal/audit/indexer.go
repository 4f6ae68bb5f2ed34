// Package audit maintains a searchable trail of terminal transaction
// results in Elasticsearch. Indexing is bulk and asynchronous; documents
// that Elasticsearch rejects are routed to the bus DLQ instead of being
// dropped.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
)

// Document is the audit record indexed per terminal transaction.
type Document struct {
	TransactionID string    `json:"transactionId"`
	AccountID     string    `json:"accountId"`
	Amount        float64   `json:"amount"`
	AmountRaw     string    `json:"amountRaw"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	CompletedAt   time.Time `json:"completedAt"`
	IndexedAt     time.Time `json:"indexedAt"`
}

const indexMapping = `{
	"settings": {
		"number_of_shards": 1,
		"number_of_replicas": 0,
		"index": {
			"refresh_interval": "1s"
		}
	},
	"mappings": {
		"properties": {
			"transactionId": { "type": "keyword" },
			"accountId": { "type": "keyword" },
			"amount": { "type": "scaled_float", "scaling_factor": 10000 },
			"amountRaw": { "type": "keyword" },
			"currency": { "type": "keyword" },
			"status": { "type": "keyword" },
			"failureReason": { "type": "keyword" },
			"completedAt": { "type": "date" },
			"indexedAt": { "type": "date" }
		}
	}
}`

// Config holds Elasticsearch connection configuration.
type Config struct {
	URL   string
	Index string
	DLQ   *bus.DLQProducer
}

// Indexer consumes completion events and bulk-indexes audit documents.
type Indexer struct {
	es      *elasticsearch.Client
	indexer esutil.BulkIndexer
	index   string
	dlq     *bus.DLQProducer
	logger  *zap.Logger
}

// NewIndexer connects to Elasticsearch, ensures the index exists and
// starts the bulk indexer.
func NewIndexer(cfg Config, logger *zap.Logger) (*Indexer, error) {
	log := logger.Named("audit")

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}

	idx := &Indexer{es: es, index: cfg.Index, dlq: cfg.DLQ, logger: log}

	if err := idx.ensureIndex(); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}

	bulker, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        es,
		Index:         cfg.Index,
		NumWorkers:    2,
		FlushBytes:    5e+6, // 5MB
		FlushInterval: 30 * time.Second,
		OnError: func(_ context.Context, err error) {
			log.Error("bulk indexer error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bulk indexer: %w", err)
	}
	idx.indexer = bulker

	log.Info("audit indexer ready", zap.String("index", cfg.Index))
	return idx, nil
}

func (i *Indexer) ensureIndex() error {
	res, err := i.es.Indices.Exists([]string{i.index})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.es.Indices.Create(i.index,
		i.es.Indices.Create.WithBody(strings.NewReader(indexMapping)))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index: %s", res.Status())
	}
	i.logger.Info("created index", zap.String("index", i.index))
	return nil
}

// HandleCompletion is the bus.HandlerFunc for the completion topic.
func (i *Indexer) HandleCompletion(ctx context.Context, msg bus.Message) error {
	var event contracts.TransactionCompleted
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode completion event: %w", err)
	}

	amount, _ := event.Amount.Float64()
	doc := Document{
		TransactionID: event.TransactionID,
		AccountID:     event.AccountID,
		Amount:        amount,
		AmountRaw:     event.Amount.String(),
		Currency:      event.Currency,
		Status:        string(event.Status),
		FailureReason: string(event.FailureReason),
		CompletedAt:   event.CompletedAt,
		IndexedAt:     time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	raw := append([]byte(nil), msg.Value...)
	return i.indexer.Add(ctx, esutil.BulkIndexerItem{
		Action:     "index",
		DocumentID: doc.TransactionID,
		Body:       bytes.NewReader(body),
		OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			reason := res.Error.Reason
			if err != nil {
				reason = err.Error()
			}
			i.logger.Error("failed to index audit document",
				zap.String("transaction_id", doc.TransactionID),
				zap.String("reason", reason))

			if i.dlq == nil {
				return
			}
			// Independent context so the DLQ write survives shutdown.
			dlqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			failed := bus.Message{Topic: contracts.TopicTransactionCompleted, Key: []byte(doc.TransactionID), Value: raw}
			if dlqErr := i.dlq.Send(dlqCtx, failed, 1, fmt.Errorf("elasticsearch: %s", reason)); dlqErr != nil {
				i.logger.Error("failed to dead-letter audit document", zap.Error(dlqErr))
			}
		},
	})
}

// Close flushes and closes the bulk indexer.
func (i *Indexer) Close(ctx context.Context) error {
	if i.indexer == nil {
		return nil
	}
	if err := i.indexer.Close(ctx); err != nil {
		return fmt.Errorf("close bulk indexer: %w", err)
	}
	stats := i.indexer.Stats()
	i.logger.Info("bulk indexer closed",
		zap.Uint64("flushed", stats.NumFlushed),
		zap.Uint64("failed", stats.NumFailed))
	return nil
}
