package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"tetatet/internal/auth"
	"tetatet/internal/backend"
	"tetatet/internal/commands"
	"tetatet/internal/config"
	"tetatet/internal/docsync"
	"tetatet/internal/drafts"
	"tetatet/internal/models"
	"tetatet/internal/msgsync"
	"tetatet/internal/notify"
	"tetatet/internal/presence"
	"tetatet/internal/state"
	"tetatet/internal/transcribe"
	"tetatet/internal/upload"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/sync/errgroup"
)

// presenceChannel names the single shared presence channel. Both parties join
// the same channel regardless of identity.
const presenceChannel = "tetatet"

func run(ctx context.Context) error {
	listDrafts := flag.Bool("list-drafts", false, "List queued voice note drafts and exit")
	retryDraft := flag.String("retry-draft", "", "Draft id to retry uploading, then exit")
	discardDraft := flag.String("discard-draft", "", "Draft id to discard without uploading, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *listDrafts {
		return commands.ListDrafts(cfg)
	}
	if *discardDraft != "" {
		return commands.DiscardDraft(*discardDraft, cfg)
	}

	if cfg.PassphraseHash != "" {
		if err := auth.Verify(cfg.PassphraseHash, os.Getenv("PASSPHRASE")); err != nil {
			return fmt.Errorf("passphrase check failed: %w", err)
		}
	}

	draftStore, err := drafts.NewStore(cfg.DraftDBFile)
	if err != nil {
		return err
	}
	defer func() { _ = draftStore.Close() }()

	var objects backend.ObjectStore
	if cfg.StorageEndpoint != "" {
		objects, err = backend.NewMinioObjectStore(ctx, cfg.StorageEndpoint,
			cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
		if err != nil {
			return fmt.Errorf("failed to connect object storage: %w", err)
		}
	} else {
		objects = backend.NewMemoryObjectStore()
	}

	engine := upload.NewEngine(draftStore, objects)

	if *retryDraft != "" {
		return commands.RetryDraft(ctx, *retryDraft, engine)
	}

	var be backend.Backend
	switch cfg.BackendMode {
	case "remote":
		ws, err := backend.DialWS(ctx, cfg.RealtimeURL)
		if err != nil {
			return fmt.Errorf("failed to connect realtime backend: %w", err)
		}
		defer func() { _ = ws.Close() }()
		be = ws
	default:
		be = backend.NewMemory()
	}

	var notifier notify.Notifier
	switch {
	case cfg.PushSubscription != "":
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(cfg.PushSubscription), &sub); err != nil {
			return fmt.Errorf("failed to parse PUSH_SUBSCRIPTION: %w", err)
		}
		notifier = notify.NewPushNotifier(&sub, cfg.PushSubscriber, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	case cfg.NotifyURL != "":
		notifier = notify.NewHTTPNotifier(cfg.NotifyURL)
	}

	chatState := state.NewChat()
	editorState := state.NewEditor()

	docSync := docsync.New(docsync.Config{
		UserID:        cfg.UserID,
		AutosaveDelay: cfg.AutosaveDelay,
		EchoWindow:    cfg.DocEchoWindow,
		Store:         be,
		Realtime:      be,
		Editor:        editorState,
		Notifier:      notifier,
	})
	msgSync := msgsync.New(ctx, msgsync.Config{
		UserID:      cfg.UserID,
		EchoWindow:  cfg.EchoWindow,
		Store:       be,
		Realtime:    be,
		Chat:        chatState,
		Notifier:    notifier,
		Transcriber: transcribe.NewHTTPTranscriber(cfg.TranscribeURL, cfg.TranscribeKey),
	})
	presSync := presence.New(presence.Config{
		User:          models.User{ID: cfg.UserID, DisplayName: cfg.DisplayName},
		TypingTimeout: cfg.TypingTimeout,
		Channel:       be.Presence(presenceChannel),
		Chat:          chatState,
		Editor:        editorState,
	})

	if _, err := docSync.Load(ctx); err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if err := msgSync.Load(ctx); err != nil {
		return err
	}
	pending, err := engine.PendingDrafts()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		log.Printf("%d voice note draft(s) pending upload (run with -list-drafts for details)", len(pending))
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := docSync.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := msgSync.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := presSync.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Flush a pending autosave so the debounce window cannot swallow the
	// last edit of the session.
	g.Go(func() error {
		<-gCtx.Done()
		if !editorState.HasUnsavedChanges() {
			return nil
		}
		log.Println("Flushing unsaved document changes...")
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := docSync.ForceSave(saveCtx, editorState.Content()); err != nil {
			log.Printf("Final document save failed: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
