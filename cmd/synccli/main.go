// Command synccli is the read-only operator inspection tool for a
// SyncManager (§6.7): it wires an in-memory option/script store, registers
// whichever cloud backends were given credentials on the command line, runs
// initialize(), and prints getStates(). Grounded on the teacher's
// cmd/cli/commands package's flag-driven, single-shot command style,
// re-expressed with pflag instead of urfave/cli since this tool has no
// subcommand tree to justify one.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"github.com/teris-io/shortid"

	"github.com/aistore-sync/usersync/manager"
	"github.com/aistore-sync/usersync/metrics"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/provider/backend"
	"github.com/aistore-sync/usersync/service"
)

var (
	flagCurrent    = flag.String("current", "", "name of the service to select as sync.current")
	flagToken      = flag.String("token", "", "auth token to seed for the current service")
	flagListen     = flag.String("listen", "", "address to serve /metrics on, e.g. :9090 (implies -metrics)")
	flagMetrics    = flag.Bool("metrics", false, "register Prometheus metrics (served only with -listen)")
	flagOnce       = flag.Bool("once", false, "run a single sync() against the current service and exit")
	flagS3Bucket   = flag.String("s3-bucket", "", "register an S3-backed service against this bucket")
	flagAzureCtr   = flag.String("azure-container", "", "register an Azure Blob-backed service against this container URL")
	flagGCSBucket  = flag.String("gcs-bucket", "", "register a GCS-backed service against this bucket")
	flagAzureAcct  = flag.String("azure-account", "", "Azure storage account name (with -azure-container)")
	flagAzureKey   = flag.String("azure-key", "", "Azure storage account key (with -azure-container)")
	flagWaitResult = flag.Duration("wait", service.CoalesceDelay+5*time.Second, "how long -once waits for the debounced sync to land")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	ctx := context.Background()
	optStore := newMemOptionStore()
	scriptStore := newMemScriptStore()

	var reg *prometheus.Registry
	var m *metrics.Set
	if *flagMetrics || *flagListen != "" {
		reg = prometheus.NewRegistry()
		m = metrics.NewSet(reg)
	}

	mgr, err := manager.New(ctx, optStore, m)
	if err != nil {
		glog.Exitf("synccli: build manager: %v", err)
	}

	registerBackends(mgr, scriptStore)

	if *flagCurrent != "" {
		if err := mgr.Root.Set(ctx, []string{"current"}, *flagCurrent); err != nil {
			glog.Exitf("synccli: set current: %v", err)
		}
		if *flagToken != "" {
			if err := mgr.Root.Service(*flagCurrent).Set(ctx, []string{"token"}, *flagToken); err != nil {
				glog.Exitf("synccli: seed token: %v", err)
			}
		}
	}

	if *flagListen != "" {
		go serveMetrics(*flagListen, reg)
	}

	if err := mgr.Initialize(ctx); err != nil {
		glog.Exitf("synccli: initialize: %v", err)
	}

	if *flagOnce {
		mgr.Sync(ctx)
		time.Sleep(*flagWaitResult)
	}

	printStates(mgr.GetStates(ctx))

	if *flagOnce {
		for _, st := range mgr.GetStates(ctx) {
			if st.Name == *flagCurrent && st.SyncState == "error" {
				os.Exit(1)
			}
		}
	}
}

func registerBackends(mgr *manager.SyncManager, store provider.ScriptStore) {
	ctx := context.Background()

	if *flagS3Bucket != "" {
		sess := session.Must(session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable}))
		client := s3.New(sess, aws.NewConfig())
		bucket := *flagS3Bucket
		mgr.Register(func(m *manager.SyncManager) *service.Base {
			p := backend.NewS3(client, bucket, "")
			return service.NewBase("s3", "Amazon S3", p, store, m.Root, m.Chain, m.Metrics)
		})
	}

	if *flagAzureCtr != "" && *flagAzureAcct != "" && *flagAzureKey != "" {
		cred, err := azblob.NewSharedKeyCredential(*flagAzureAcct, *flagAzureKey)
		if err != nil {
			glog.Exitf("synccli: azure credential: %v", err)
		}
		pipeline := azblob.NewPipeline(cred, azblob.PipelineOptions{})
		parsed, err := url.Parse(*flagAzureCtr)
		if err != nil {
			glog.Exitf("synccli: parse azure container URL %q: %v", *flagAzureCtr, err)
		}
		containerURL := azblob.NewContainerURL(*parsed, pipeline)
		mgr.Register(func(m *manager.SyncManager) *service.Base {
			p := backend.NewAzure(containerURL, "")
			return service.NewBase("azure", "Azure Blob Storage", p, store, m.Root, m.Chain, m.Metrics)
		})
	}

	if *flagGCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			glog.Exitf("synccli: gcs client: %v", err)
		}
		bucket := *flagGCSBucket
		mgr.Register(func(m *manager.SyncManager) *service.Base {
			p := backend.NewGCS(client, bucket, "")
			return service.NewBase("gcs", "Google Cloud Storage", p, store, m.Root, m.Chain, m.Metrics)
		})
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	glog.Infof("synccli: serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		glog.Errorf("synccli: metrics server: %v", err)
	}
}

func printStates(states []manager.ServiceState) {
	if len(states) == 0 {
		fmt.Println("no services registered")
		return
	}
	for _, s := range states {
		fmt.Printf("%s (%s)\n", s.Name, s.DisplayName)
		fmt.Printf("  auth=%s sync=%s lastSync=%d progress=%d/%d\n",
			s.AuthState, s.SyncState, s.LastSync, s.Progress.Finished, s.Progress.Total)
		if len(s.Properties) > 0 {
			fmt.Printf("  properties=%v\n", s.Properties)
		}
	}
}

// --- in-memory collaborators, for inspection-tool use only ---

type memOptionStore struct {
	mu sync.Mutex
	m  map[string]interface{}
}

func newMemOptionStore() *memOptionStore { return &memOptionStore{m: map[string]interface{}{}} }

func (s *memOptionStore) GetOption(ctx context.Context, key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *memOptionStore) SetOption(ctx context.Context, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// idAlphabet mirrors the teacher's cmn.GenUUID convention of generating
// short, human-readable, URL-safe script IDs (cmn/shortid.go's uuidABC).
const idAlphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

type memScriptStore struct {
	mu      sync.Mutex
	sid     *shortid.Shortid
	scripts map[string]*provider.Script
	codes   map[string]string
}

func newMemScriptStore() *memScriptStore {
	return &memScriptStore{
		sid:     shortid.MustNew(1, idAlphabet, 1),
		scripts: map[string]*provider.Script{},
		codes:   map[string]string{},
	}
}

func (s *memScriptStore) List(ctx context.Context) ([]*provider.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*provider.Script, 0, len(s.scripts))
	for _, sc := range s.scripts {
		out = append(out, sc)
	}
	return out, nil
}

func (s *memScriptStore) Get(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[id], nil
}

func (s *memScriptStore) Update(ctx context.Context, data *provider.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data.ID == "" {
		id, err := s.sid.Generate()
		if err != nil {
			return err
		}
		data.ID = id
	}
	s.scripts[data.ID] = data
	s.codes[data.ID] = data.Code
	return nil
}

func (s *memScriptStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scripts, id)
	delete(s.codes, id)
	return nil
}

func (s *memScriptStore) SortScripts(ctx context.Context) (bool, error) { return false, nil }

func (s *memScriptStore) UpdateScriptInfo(ctx context.Context, id string, props provider.Props) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scripts[id]; ok {
		sc.Props.Position = props.Position
	}
	return nil
}

