// Command rsocket-demo runs a small echo server or client over the
// rsocket package, exercising SETUP negotiation, request/response, and
// request/stream against a real TCP transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/valyala/fastrand"
	"gopkg.in/yaml.v3"

	"github.com/domsolutions/rsocket"
	"github.com/domsolutions/rsocket/resume"
	"github.com/domsolutions/rsocket/transport"
)

// demoConfig is optionally loaded from a YAML file via -config, letting
// the demo's keep-alive/fragmentation knobs be tuned without a rebuild.
type demoConfig struct {
	Addr                 string        `yaml:"addr"`
	KeepAliveInterval    time.Duration `yaml:"keepAliveInterval"`
	KeepAliveMaxLifetime time.Duration `yaml:"keepAliveMaxLifetime"`
	FragmentationMTU     int           `yaml:"fragmentationMTU"`
}

func loadConfig(path string) (demoConfig, error) {
	cfg := demoConfig{
		Addr:                 ":7878",
		KeepAliveInterval:    rsocket.DefaultKeepAliveInterval,
		KeepAliveMaxLifetime: rsocket.DefaultKeepAliveMaxLifetime,
	}
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var (
	modeArg    = flag.String("mode", "server", "server or client")
	configArg  = flag.String("config", "", "optional YAML config path")
	streamN    = flag.Int("n", 5, "client: number of request/stream items to request")
	resumeArg  = flag.Bool("resume", false, "enable RESUME support (client: reconnect via DialResumable)")
	resumeFile = flag.String("resume-store", "", "optional file path for the resume-token store (default: in-memory)")
)

func openResumeStore() (resume.Store, error) {
	if *resumeFile == "" {
		return resume.NewMemoryStore(), nil
	}
	return resume.NewFileStore(*resumeFile)
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configArg)
	if err != nil {
		log.Fatalf("rsocket-demo: loading config: %v", err)
	}

	switch *modeArg {
	case "server":
		runServer(cfg)
	case "client":
		runClient(cfg)
	default:
		log.Fatalf("rsocket-demo: unknown -mode %q", *modeArg)
	}
}

func connOpts(cfg demoConfig) rsocket.ConnectionOptions {
	opts := rsocket.ConnectionOptions{
		KeepAliveInterval:    cfg.KeepAliveInterval,
		KeepAliveMaxLifetime: cfg.KeepAliveMaxLifetime,
		FragmentationMTU:     cfg.FragmentationMTU,
		Logger:               log.Default(),
	}
	if *resumeArg {
		store, err := openResumeStore()
		if err != nil {
			log.Fatalf("rsocket-demo: opening resume store: %v", err)
		}
		opts.ResumeEnabled = true
		opts.ResumeStore = store
	}
	return opts.WithDefaults()
}

// echoResponder answers every interaction by echoing the request back,
// prefixing the data with a short tag so a client can tell responses
// from different handlers apart.
type echoResponder struct {
	tag string
}

func (e *echoResponder) MetadataPush(ctx context.Context, metadata []byte) error {
	color.Cyan("[%s] metadata push: %q", e.tag, metadata)
	return nil
}

func (e *echoResponder) FireAndForget(ctx context.Context, msg rsocket.Message) error {
	color.Cyan("[%s] fire-and-forget: %q", e.tag, msg.Data)
	return nil
}

func (e *echoResponder) RequestResponse(ctx context.Context, msg rsocket.Message) (rsocket.Message, error) {
	return rsocket.Message{Data: append([]byte(e.tag+": "), msg.Data...)}, nil
}

func (e *echoResponder) RequestStream(ctx context.Context, msg rsocket.Message, initialRequestN uint32) (<-chan rsocket.StreamEvent, error) {
	out := make(chan rsocket.StreamEvent, 8)
	go func() {
		defer close(out)
		for i := uint32(0); i < initialRequestN; i++ {
			select {
			case out <- rsocket.StreamEvent{
				Data:    []byte(fmt.Sprintf("%s: item %d for %q", e.tag, i, msg.Data)),
				HasNext: true,
			}:
			case <-ctx.Done():
				return
			}
		}
		out <- rsocket.StreamEvent{Complete: true}
	}()
	return out, nil
}

func (e *echoResponder) RequestChannel(ctx context.Context, msgs <-chan rsocket.Message, initialRequestN uint32) (<-chan rsocket.StreamEvent, error) {
	out := make(chan rsocket.StreamEvent, 8)
	go func() {
		defer close(out)
		for msg := range msgs {
			select {
			case out <- rsocket.StreamEvent{Data: append([]byte(e.tag+": "), msg.Data...), HasNext: true}:
			case <-ctx.Done():
				return
			}
		}
		out <- rsocket.StreamEvent{Complete: true}
	}()
	return out, nil
}

func runServer(cfg demoConfig) {
	ln := &transport.Listener{Addr: cfg.Addr}
	if err := ln.Listen(); err != nil {
		log.Fatalf("rsocket-demo: listen: %v", err)
	}
	color.Green("rsocket-demo: listening on %s", cfg.Addr)

	// Built once, outside the accept loop: a RESUME attempt only finds
	// its saved position if every accepted connection shares the same
	// ResumeStore instance.
	opts := connOpts(cfg)

	for {
		t, err := ln.Accept()
		if err != nil {
			color.Red("rsocket-demo: accept: %v", err)
			continue
		}

		go func() {
			conn, err := rsocket.Accept(t, opts, func(setup rsocket.Message, requester rsocket.RSocket) (rsocket.RSocket, error) {
				color.Yellow("rsocket-demo: accepted setup payload %q", setup.Data)
				return &echoResponder{tag: "server"}, nil
			})
			if err != nil {
				color.Red("rsocket-demo: handshake failed: %v", err)
				return
			}
			<-conn.Done()
			color.Yellow("rsocket-demo: connection closed")
		}()
	}
}

func runClient(cfg demoConfig) {
	opts := connOpts(cfg)
	responder := &echoResponder{tag: "client"}

	var conn *rsocket.Connection
	var err error
	if *resumeArg {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dialCancel()
		conn, err = rsocket.DialResumable(dialCtx, (&transport.Dialer{Addr: cfg.Addr}).Dial, opts, responder)
	} else {
		var t transport.Transport
		t, err = (&transport.Dialer{Addr: cfg.Addr}).Dial()
		if err == nil {
			conn, err = rsocket.Connect(t, opts, responder)
		}
	}
	if err != nil {
		log.Fatalf("rsocket-demo: connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(fastrand.Uint32n(256))
	}

	reply, err := conn.RequestResponse(ctx, rsocket.Message{Data: []byte(fmt.Sprintf("hello %x", payload))})
	if err != nil {
		log.Fatalf("rsocket-demo: request-response: %v", err)
	}
	color.Green("rsocket-demo: reply: %q", reply.Data)

	events, err := conn.RequestStream(ctx, rsocket.Message{Data: []byte("give me items")}, uint32(*streamN))
	if err != nil {
		log.Fatalf("rsocket-demo: request-stream: %v", err)
	}
	for ev := range events {
		if ev.Err != nil {
			color.Red("rsocket-demo: stream error: %v", ev.Err)
			break
		}
		if ev.HasNext {
			color.Magenta("rsocket-demo: stream item: %q", ev.Data)
		}
		if ev.Complete {
			break
		}
	}
}
