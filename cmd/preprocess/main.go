package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/paulmach/orb"

	"fireroute/pkg/graph"
	osmparser "fireroute/pkg/osm"
)

func main() {
	input := flag.String("input", "", "Path to .osm.pbf file")
	output := flag.String("output", "graph.bin", "Output binary graph file path")
	bbox := flag.String("bbox", "", "Bounding box filter: north,south,east,west (e.g. 1.48,1.15,104.1,103.6)")
	singapore := flag.Bool("singapore", false, "Shortcut for --bbox 1.48,1.15,104.1,103.6 (Singapore bounding box)")
	keepAll := flag.Bool("keep-all-components", false, "Keep disconnected street islands instead of the largest component only")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: preprocess --input <file.osm.pbf> [--output graph.bin] [--singapore | --bbox north,south,east,west]")
		os.Exit(1)
	}

	// Parse bbox option.
	var opts osmparser.ParseOptions
	if *singapore {
		opts.Bound = orb.Bound{Min: orb.Point{103.6, 1.15}, Max: orb.Point{104.1, 1.48}}
		log.Println("Using Singapore bounding box filter: lat [1.15, 1.48], lng [103.6, 104.1]")
	} else if *bbox != "" {
		var north, south, east, west float64
		_, err := fmt.Sscanf(*bbox, "%f,%f,%f,%f", &north, &south, &east, &west)
		if err != nil {
			log.Fatalf("Invalid bbox format (expected north,south,east,west): %v", err)
		}
		if north <= south || east <= west {
			log.Fatalf("Invalid bbox: north must exceed south and east must exceed west")
		}
		opts.Bound = orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
		log.Printf("Using bounding box filter: lat [%.4f, %.4f], lng [%.4f, %.4f]", south, north, west, east)
	}

	start := time.Now()

	// Step 1: Parse OSM data.
	log.Println("Opening OSM file...")
	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("Failed to open input file: %v", err)
	}
	defer f.Close()

	log.Println("Parsing OSM data...")
	parseResult, err := osmparser.Parse(context.Background(), f, opts)
	if err != nil {
		log.Fatalf("Failed to parse OSM data: %v", err)
	}
	log.Printf("Parsed %d street segments, %d buildings, %d fire stations",
		len(parseResult.Edges), len(parseResult.Buildings), len(parseResult.Facilities))

	// Step 2: Build graph.
	log.Println("Building graph...")
	g, err := graph.Build(parseResult)
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}
	log.Printf("Graph: %d nodes, %d edges", g.NumNodes(), g.NumEdges())

	// Step 3: Extract largest connected component.
	if !*keepAll && g.NumNodes() > 0 {
		log.Println("Extracting largest connected component...")
		componentNodes := graph.LargestComponent(g)
		log.Printf("Largest component: %d nodes (%.1f%%)", len(componentNodes), float64(len(componentNodes))/float64(g.NumNodes())*100)
		g = graph.Subgraph(g, componentNodes)
		log.Printf("Filtered graph: %d nodes, %d edges", g.NumNodes(), g.NumEdges())
	}

	// Step 4: Serialize to binary.
	log.Printf("Writing binary to %s...", *output)
	if err := graph.WriteBinary(*output, g); err != nil {
		log.Fatalf("Failed to write binary: %v", err)
	}

	info, _ := os.Stat(*output)
	elapsed := time.Since(start)
	log.Printf("Done in %s. Output: %s (%.1f MB)", elapsed.Round(time.Second), *output, float64(info.Size())/(1024*1024))
}
