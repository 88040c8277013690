package main

import (
	"log"
	"path/filepath"

	gen "github.com/whyrusleeping/cbor-gen"

	"github.com/tanqiangyes/ref-fvm/pkg/types"
)

type genTarget struct {
	dir   string
	pkg   string
	types []interface{}
}

func main() {
	targets := []genTarget{
		{
			dir: "./pkg/types/",
			types: []interface{}{
				types.ActorState{},
				types.Message{},
				types.MessageReceipt{},
				types.StateRoot{},
				types.Manifest{},
				types.ManifestData{},
				types.ManifestEntry{},
			},
		},
	}

	for _, target := range targets {
		pkg := target.pkg
		if pkg == "" {
			pkg = filepath.Base(target.dir)
		}

		if err := gen.WriteTupleEncodersToFile(filepath.Join(target.dir, "cbor_gen.go"), pkg, target.types...); err != nil {
			log.Fatalf("gen for %s: %s", target.dir, err)
		}
	}
}
