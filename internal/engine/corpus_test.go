package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
)

// corpusTopic is one document of the lexical corpus. Each carries a signature phrase that
// only its own document contains in full.
type corpusTopic struct {
	title   string
	phrase  string
	content string
}

var corpus = []corpusTopic{
	{"Python Guide", "Python programming", "Python is a high-level programming language. Python programming is used for web development and data science."},
	{"Kubernetes Docs", "Kubernetes orchestration", "Kubernetes is an open-source container platform. Kubernetes orchestration automates deployment and scaling."},
	{"React Tutorial", "React hooks", "React is a JavaScript library. React hooks and components enable building user interfaces."},
	{"Go Language", "golang goroutines", "Go is a statically typed language. Concurrency in golang uses goroutines and channels."},
	{"PostgreSQL Manual", "PostgreSQL relational", "PostgreSQL is an advanced database. PostgreSQL relational tables support JSON and full-text search."},
	{"Docker Handbook", "Docker images", "Docker enables building and shipping applications. Docker images are portable across environments."},
	{"Redis Cache", "Redis sessions", "Redis is an in-memory data store. Redis sessions and caching are common uses."},
	{"Terraform IaC", "Terraform declarative", "Terraform manages cloud infrastructure. Terraform declarative configuration describes the desired state."},
	{"Prometheus Metrics", "Prometheus monitoring", "Prometheus is a monitoring system. Prometheus monitoring metrics are time-series based."},
	{"Git Workflow", "Git version control", "Git is a distributed system. Git version control tracks changes in source code."},
	{"Kafka Streams", "Kafka streaming", "Apache Kafka is a distributed event platform. Kafka streaming handles high throughput."},
	{"Nginx Config", "Nginx proxy", "Nginx is a web server. An Nginx proxy balances load and serves static files."},
}

func indexCorpus(tb testing.TB, e *Engine) map[string]string {
	tb.Helper()
	hashes := make(map[string]string, len(corpus))
	for _, topic := range corpus {
		doc, err := indexer.NewDocument(topic.content, topic.title, "corpus/"+topic.title, "")
		require.NoError(tb, err)
		_, err = e.IndexDocument(context.Background(), doc, "alice")
		require.NoError(tb, err)
		hashes[topic.title] = doc.Hash
	}
	return hashes
}

func TestEngine_CorpusQueriesFindTheirDocument(t *testing.T) {
	e := newTestEngine(t)
	hashes := indexCorpus(t, e)

	for _, class := range []models.QueryClass{models.ClassKeywords, models.ClassFulltext} {
		for _, topic := range corpus {
			t.Run(fmt.Sprintf("%s/%s", class, topic.phrase), func(t *testing.T) {
				hits, err := e.Search(context.Background(), topic.phrase, "alice", models.SearchOptions{Class: class, K: 3})
				require.NoError(t, err)
				require.NotEmpty(t, hits)
				assert.Equal(t, hashes[topic.title], hits[0].Hash, "top hit for %q", topic.phrase)
				assert.Equal(t, topic.title, hits[0].Title)
			})
		}
	}
}

func TestEngine_CorpusIsScopedByUser(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	hits, err := e.Search(context.Background(), "Kafka streaming", "bob", models.SearchOptions{Class: models.ClassKeywords})
	require.NoError(t, err)
	assert.Empty(t, hits)

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, len(corpus), stats.Documents)
	assert.EqualValues(t, len(corpus), stats.Chunks)
}

func BenchmarkEngine_SearchKeywords(b *testing.B) {
	e := newTestEngine(b)
	indexCorpus(b, e)
	ctx := context.Background()
	opts := models.SearchOptions{Class: models.ClassKeywords, K: 5}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Search(ctx, "Prometheus monitoring", "alice", opts)
	}
}
