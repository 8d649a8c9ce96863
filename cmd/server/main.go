package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"fireroute/pkg/api"
	"fireroute/pkg/graph"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using flags and environment")
	}

	def := api.DefaultHandlerConfig()
	graphPath := flag.String("graph", envString("FIREROUTE_GRAPH", "graph.bin"), "Path to preprocessed graph binary")
	port := flag.Int("port", envInt("FIREROUTE_PORT", 8080), "HTTP port")
	corsOrigin := flag.String("cors-origin", envString("FIREROUTE_CORS_ORIGIN", ""), "CORS allowed origin (empty = same-origin)")
	requestTimeout := flag.Duration("request-timeout", envDuration("FIREROUTE_REQUEST_TIMEOUT", 60*time.Second), "Per-request time limit")
	maxSessions := flag.Int("max-sessions", envInt("FIREROUTE_MAX_SESSIONS", 256), "Sessions kept in memory")
	sessionTTL := flag.Duration("session-ttl", envDuration("FIREROUTE_SESSION_TTL", 30*time.Minute), "Idle time before a session expires")
	seed := flag.Int64("seed", int64(envInt("FIREROUTE_SEED", int(def.Alloc.Seed))), "Default optimizer seed")
	restarts := flag.Int("restarts", envInt("FIREROUTE_RESTARTS", def.Alloc.Restarts), "Independent annealing runs per pass")
	workers := flag.Int("workers", envInt("FIREROUTE_WORKERS", def.Alloc.Workers), "Concurrent workers per pass")
	maxIter := flag.Int("max-iterations", envInt("FIREROUTE_MAX_ITERATIONS", def.Alloc.Schedule.MaxIterations), "Annealing iteration budget")
	cooling := flag.Float64("cooling-rate", envFloat("FIREROUTE_COOLING_RATE", def.Alloc.Schedule.CoolingRate), "Geometric cooling factor")
	timeBudget := flag.Duration("time-budget", envDuration("FIREROUTE_TIME_BUDGET", 0), "Annealing wall-time budget (0 = none)")
	reheat := flag.Float64("reheat-fraction", envFloat("FIREROUTE_REHEAT_FRACTION", def.Reopt.ReheatFraction), "Share of the initial temperature used by re-optimization")
	reheatIter := flag.Int("reheat-iterations", envInt("FIREROUTE_REHEAT_ITERATIONS", def.Reopt.ReheatIterations), "Re-optimization iteration budget")
	hazardRadius := flag.Float64("hazard-radius", envFloat("FIREROUTE_HAZARD_RADIUS", def.DefaultHazardRadius), "Radius in meters for hazards that carry none")
	maxBuildings := flag.Int("max-buildings", envInt("FIREROUTE_MAX_BUILDINGS", def.MaxBuildings), "Buildings allowed in one region (0 = no limit)")
	flag.Parse()

	start := time.Now()

	// Load graph.
	log.Printf("Loading graph from %s...", *graphPath)
	g, err := graph.ReadBinary(*graphPath)
	if err != nil {
		log.Fatalf("Failed to load graph: %v", err)
	}
	src := api.NewMapSource(g)
	stats := src.Stats()
	log.Printf("Loaded: %d nodes, %d edges, %d buildings, %d fire stations",
		stats.NumNodes, stats.NumEdges, stats.NumBuildings, stats.NumFacilities)
	log.Printf("Ready in %s", time.Since(start).Round(time.Millisecond))

	hcfg := def
	hcfg.Alloc.Seed = *seed
	hcfg.Alloc.Restarts = *restarts
	hcfg.Alloc.Workers = *workers
	hcfg.Alloc.Schedule.MaxIterations = *maxIter
	hcfg.Alloc.Schedule.CoolingRate = *cooling
	hcfg.Alloc.Schedule.TimeBudget = *timeBudget
	hcfg.Reopt.ReheatFraction = *reheat
	hcfg.Reopt.ReheatIterations = *reheatIter
	hcfg.DefaultHazardRadius = *hazardRadius
	hcfg.MaxBuildings = *maxBuildings

	store := api.NewStore(*maxSessions, *sessionTTL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx, time.Minute)

	// Setup HTTP server.
	addr := fmt.Sprintf(":%d", *port)
	cfg := api.DefaultConfig(addr)
	cfg.CORSOrigin = *corsOrigin
	cfg.RequestTimeout = *requestTimeout
	cfg.WriteTimeout = *requestTimeout + 5*time.Second

	handlers := api.NewHandlers(src, store, hcfg, stats)
	srv := api.NewServer(cfg, handlers)

	if err := api.ListenAndServe(ctx, srv); err != nil {
		log.Printf("Server stopped: %v", err)
		os.Exit(1)
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Invalid %s=%q: %v", key, v, err)
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("Invalid %s=%q: %v", key, v, err)
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("Invalid %s=%q: %v", key, v, err)
	}
	return d
}
