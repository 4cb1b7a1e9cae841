package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"

	"github.com/thesislab/collabd/pkg/wire"
)

// A terminal collaborator: connects to a document, prints what the other
// editors do, and appends every line typed on stdin to the latex text.
func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the address of the collabd server")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	if flag.NArg() != 1 {
		return fmt.Errorf("expected one positional argument: the document id")
	}
	id, err := strconv.ParseInt(flag.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid document id %q", flag.Arg(0))
	}

	u := url.URL{Scheme: "ws", Host: *addrVar, Path: fmt.Sprintf("/documents/%d/collab", id)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	// the first frame is the full document state
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read initial frame: %w", err)
	}
	label, payload, err := wire.Decode(raw)
	if err != nil {
		return fmt.Errorf("failed to decode initial frame: %w", err)
	}
	if label != wire.TypeSync {
		return fmt.Errorf("expected a %s frame first, got %s", wire.TypeSync, label)
	}
	doc, err := automerge.Load(payload)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	docLock := new(sync.Mutex)

	text, _ := doc.Path("latex").Text().Get()
	fmt.Println(text)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			mt, raw, err := conn.ReadMessage()
			if err != nil {
				slog.Info("connection closed", "err", err)
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			label, payload, err := wire.Decode(raw)
			if err != nil {
				slog.Error("received malformed frame", "err", err)
				return
			}
			switch label {
			case wire.TypeSync, wire.TypeUpdate:
				docLock.Lock()
				if err := doc.LoadIncremental(payload); err != nil {
					slog.Error("failed to apply remote change", "err", err)
				} else {
					// advance the incremental marker so local edits do not
					// re-send the changes we just received
					_ = doc.SaveIncremental()
					text, _ := doc.Path("latex").Text().Get()
					slog.Info("document changed", "length", len(text))
				}
				docLock.Unlock()
			case wire.TypeClients:
				slog.Info("collaborators online", "count", string(payload))
			default:
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		docLock.Lock()
		if err := doc.Path("latex").Text().Append(scanner.Text() + "\n"); err != nil {
			docLock.Unlock()
			slog.Error("failed to append line", "err", err)
			continue
		}
		if _, err := doc.Commit("append line"); err != nil {
			docLock.Unlock()
			slog.Error("failed to commit", "err", err)
			continue
		}
		delta := doc.SaveIncremental()
		docLock.Unlock()

		frame, err := wire.Encode(wire.TypeUpdate, delta)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("failed to send update: %w", err)
		}
	}
	_ = conn.Close()
	wg.Wait()
	return scanner.Err()
}
