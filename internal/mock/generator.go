package mock

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/ingest"
)

var commonTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob", "Task"}

// script drives one synthetic session through its lifecycle.
type script struct {
	sessionID   string
	machineID   string
	machineName string
	cwd         string
	model       string
	tools       []string
	promptEvery int // ticks between prompt events
	stopAt      int // tick that emits a stop (idle)
	endAt       int // tick that emits session_end; 0 = runs forever
	toolIdx     int
	done        bool
}

// Generator feeds scripted hook events through the real ingestion path
// so the full stack — log, registry, snapshots, websocket pushes — can
// be exercised without any producers attached.
type Generator struct {
	ingestor *ingest.Ingestor
	interval time.Duration
	scripts  []*script
	tick     int
}

func NewGenerator(ingestor *ingest.Ingestor) *Generator {
	return &Generator{
		ingestor: ingestor,
		interval: 2 * time.Second,
		scripts: []*script{
			{sessionID: "mock-refactor", machineID: "mock-mac", machineName: "demo-laptop",
				cwd: "/home/user/myproject", model: "opus", tools: commonTools,
				promptEvery: 4, stopAt: 25, endAt: 40},
			{sessionID: "mock-tests", machineID: "mock-mac", machineName: "demo-laptop",
				cwd: "/home/user/webapp", model: "sonnet",
				tools: []string{"Read", "Write", "Bash", "Bash"},
				promptEvery: 3, stopAt: 15},
			{sessionID: "mock-review", machineID: "mock-linux", machineName: "demo-desktop",
				cwd: "/home/user/library", model: "sonnet",
				tools: []string{"Read", "Grep", "Read", "Glob"},
				promptEvery: 5, stopAt: 35, endAt: 50},
		},
	}
}

// Start emits a session_start for every script and advances them on a
// ticker until ctx is canceled.
func (g *Generator) Start(ctx context.Context) {
	log.Printf("Mock generator started with %d sessions", len(g.scripts))
	for _, sc := range g.scripts {
		g.emit(sc, event.TypeSessionStart, event.Payload{SessionID: sc.sessionID, Cwd: sc.cwd, Model: sc.model, Source: "startup"})
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Mock generator stopped")
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick advances every script by one step.
func (g *Generator) Tick() {
	g.tick++
	for _, sc := range g.scripts {
		if sc.done {
			continue
		}
		g.advance(sc)
	}
}

func (g *Generator) advance(sc *script) {
	switch {
	case sc.endAt > 0 && g.tick >= sc.endAt:
		g.emit(sc, event.TypeSessionEnd, event.Payload{SessionID: sc.sessionID, Reason: "exit"})
		sc.done = true

	case g.tick == sc.stopAt:
		g.emit(sc, event.TypeStop, event.Payload{SessionID: sc.sessionID})
		if sc.endAt == 0 {
			sc.done = true
		}

	case g.tick > sc.stopAt:
		// idle until session_end

	case sc.promptEvery > 0 && g.tick%sc.promptEvery == 0:
		g.emit(sc, event.TypePrompt, event.Payload{SessionID: sc.sessionID, Prompt: "mock prompt"})

	default:
		tool := sc.tools[sc.toolIdx%len(sc.tools)]
		sc.toolIdx++
		p := event.Payload{SessionID: sc.sessionID, ToolName: tool}
		if rand.Intn(4) == 0 {
			p.ToolResponse = "ok"
		}
		g.emit(sc, event.TypeTool, p)
	}
}

func (g *Generator) emit(sc *script, eventType string, p event.Payload) {
	_, err := g.ingestor.Ingest(ingest.HookPayload{
		EventType:   eventType,
		MachineID:   sc.machineID,
		MachineName: sc.machineName,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Data:        p,
	})
	if err != nil {
		log.Printf("mock ingest failed: %v", err)
	}
}
