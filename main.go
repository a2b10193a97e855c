// Copyright (c) 2025 The Firma-Sign Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/firma-sign/firma-sign/auth"
	"github.com/firma-sign/firma-sign/blobstore"
	"github.com/firma-sign/firma-sign/config"
	"github.com/firma-sign/firma-sign/documents"
	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/gateway"
	"github.com/firma-sign/firma-sign/groups"
	"github.com/firma-sign/firma-sign/journal"
	"github.com/firma-sign/firma-sign/messages"
	"github.com/firma-sign/firma-sign/peers"
	"github.com/firma-sign/firma-sign/services"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transfers"
	"github.com/firma-sign/firma-sign/transports"
	"github.com/firma-sign/firma-sign/transports/web"
)

// Prints usage info.
func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s <config_file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "See README.md for details on config files.\n")
	os.Exit(1)
}

// configures structured logging per the service configuration
func setupLogging() error {
	level := slog.LevelInfo
	switch config.Service.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	output := os.Stdout
	if config.Service.LogDir != "" {
		if err := os.MkdirAll(config.Service.LogDir, 0755); err != nil {
			return err
		}
		logFile := filepath.Join(config.Service.LogDir, "firma-sign.log")
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		output = file
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// builds the callback handling events delivered by transports from remote
// peers: announced transfers become incoming transfers, everything else
// lands in the message journal
func receiveInbound(router *transfers.Router, st *store.Store) func(transports.Inbound) {
	return func(inbound transports.Inbound) {
		ctx := context.Background()
		switch inbound.Kind {
		case "transfer":
			docs := decodeInboundDocuments(inbound.Payload)
			sender := map[string]any{"peerId": inbound.From}
			_, err := router.CreateIncoming(ctx, inbound.TransferId, sender,
				inbound.Transport, docs)
			if err != nil {
				slog.Error(fmt.Sprintf("Couldn't record incoming transfer from %s: %s",
					inbound.From, err.Error()))
			}
		case "message":
			content, _ := inbound.Payload["content"].(string)
			message := &store.Message{
				Id:        fmt.Sprintf("msg-inbound-%d", time.Now().UnixNano()),
				FromPeer:  inbound.From,
				ToPeer:    peers.LocalPeerId,
				Content:   content,
				Transport: inbound.Transport,
				Direction: store.DirectionInbound,
				Status:    store.MessageDelivered,
			}
			if err := st.Messages.Create(ctx, message); err != nil {
				slog.Error(fmt.Sprintf("Couldn't record incoming message from %s: %s",
					inbound.From, err.Error()))
			}
		default:
			slog.Debug(fmt.Sprintf("Ignoring inbound %s event from %s",
				inbound.Kind, inbound.From))
		}
	}
}

// decodes the documents announced in an inbound transfer payload
func decodeInboundDocuments(payload map[string]any) []transfers.DocumentInput {
	var docs []transfers.DocumentInput
	entries, _ := payload["documents"].([]any)
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		fileName, _ := fields["fileName"].(string)
		encoded, _ := fields["data"].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't decode inbound document %s: %s",
				fileName, err.Error()))
			continue
		}
		docs = append(docs, transfers.DocumentInput{FileName: fileName, Data: data})
	}
	return docs
}

func main() {

	// The only argument is the configuration filename.
	if len(os.Args) < 2 {
		usage()
	}
	configFile := os.Args[1]

	// Read the configuration file.
	log.Printf("Reading configuration from '%s'...\n", configFile)
	b, err := os.ReadFile(configFile)
	if err != nil {
		log.Panicf("Couldn't read %s: %s\n", configFile, err.Error())
	}

	// Initialize our configuration and logging.
	if err = config.Init(b); err != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", err.Error())
	}
	if err = setupLogging(); err != nil {
		log.Panicf("Couldn't initialize logging: %s\n", err.Error())
	}

	// Open the relational store and the blob store.
	if err = os.MkdirAll(config.Storage.Path, 0755); err != nil {
		log.Panicf("Couldn't create the storage directory: %s\n", err.Error())
	}
	st, err := store.Open(config.Storage.DatabasePath())
	if err != nil {
		log.Panicf("Couldn't open the store: %s\n", err.Error())
	}
	blobs, err := blobstore.New(filepath.Join(config.Storage.Path, "docs"),
		config.Storage.MaxFileSize, config.Storage.UseChecksum)
	if err != nil {
		log.Panicf("Couldn't open the blob store: %s\n", err.Error())
	}

	// Start the event bus and the transfer journal.
	bus := events.NewBus(events.DefaultQueueSize)
	if err = journal.Init(); err != nil {
		log.Panicf("Couldn't open the transfer journal: %s\n", err.Error())
	}

	// Register and initialize the configured transports.
	registry := transports.NewRegistry(bus)
	if err = web.Register(registry, "web"); err != nil {
		log.Panicf("Couldn't register the web transport: %s\n", err.Error())
	}
	var enabled []string
	settings := make(map[string]map[string]any)
	for name, transportConfig := range config.Transports {
		if transportConfig.Enabled {
			enabled = append(enabled, name)
			settings[name] = transportConfig.Settings
		}
	}
	registry.Initialize(context.Background(), enabled, settings)

	// Assemble the domain services.
	docService := documents.NewService(st, blobs)
	router := transfers.NewRouter(st, blobs, docService, registry, bus)
	peerService := peers.NewService(st, registry, bus)
	messageService := messages.NewService(st, registry, bus)
	groupService := groups.NewService(st, router, messageService, bus)

	// Route events arriving over the active transports.
	inbound := receiveInbound(router, st)
	for _, name := range registry.Active() {
		if transport, err := registry.Get(name); err == nil {
			transport.Receive(inbound)
		}
	}

	// The WebSocket gateway validates JWTs, and fernet session tokens when a
	// session key is configured.
	var sessions auth.SessionValidator
	if config.Auth.SessionKey != "" {
		ttl := time.Duration(config.Auth.SessionTTL) * time.Second
		sessions, err = auth.NewFernetValidator(config.Auth.SessionKey, ttl)
		if err != nil {
			log.Panicf("Couldn't initialize the session validator: %s\n", err.Error())
		}
	}
	ws := gateway.New(bus, messageService, config.Auth.JwtSecret, sessions)

	service, err := services.NewSignService(services.Dependencies{
		Store:     st,
		Registry:  registry,
		Peers:     peerService,
		Groups:    groupService,
		Messages:  messageService,
		Transfers: router,
		Documents: docService,
		Gateway:   ws,
	})
	if err != nil {
		log.Panicf("Couldn't create the service: %s\n", err.Error())
	}

	// Start the service in a goroutine so it doesn't block.
	go func() {
		err = service.Start(config.Service.Port)
		if err != nil {
			log.Println(err.Error())
		}
	}()

	// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, shutting down
	// the service as gracefully as possible if they are encountered.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	// Block till we receive one of the above signals.
	<-sigChan

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Wind everything down: HTTP and WebSocket traffic first, then transports,
	// then the journal and the stores.
	service.Shutdown(ctx)
	router.Wait()
	registry.Shutdown(ctx)
	if err = journal.Finalize(); err != nil {
		slog.Error(fmt.Sprintf("Couldn't close the transfer journal: %s", err.Error()))
	}
	bus.Close()
	st.Close()
	slog.Info("Shutting down")
	os.Exit(0)
}
