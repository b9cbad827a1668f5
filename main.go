// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/xtsnet/xtsd/domain/blockchain"
	"github.com/xtsnet/xtsd/infrastructure/config"
	"github.com/xtsnet/xtsd/infrastructure/db/database/ldb"
	"github.com/xtsnet/xtsd/infrastructure/os/signal"
	"github.com/xtsnet/xtsd/util/panics"
	"github.com/xtsnet/xtsd/util/profiling"
	"github.com/xtsnet/xtsd/version"
)

const chainDirname = "chain"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer panics.HandlePanic(log, nil)

	err = run(cfg)
	if err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	interrupt := signal.InterruptListener()
	log.Infof("Version %s", version.Version())

	if cfg.Profile != "" {
		profiling.Start(cfg.Profile, log)
	}

	db, err := ldb.NewLevelDB(filepath.Join(cfg.DataDir, chainDirname))
	if err != nil {
		return err
	}
	defer func() {
		log.Infof("Gracefully shutting down the database...")
		err := db.Close()
		if err != nil {
			log.Errorf("Cannot close the database: %s", err)
		}
	}()

	document, err := loadGenesisDocument(cfg)
	if err != nil {
		return err
	}

	chainConfig := &blockchain.Config{
		Database:   db,
		Params:     cfg.NetParams(),
		TrackStats: cfg.TrackStats,
	}
	if cfg.Reindex {
		err = blockchain.Reindex(chainConfig, document)
		if err != nil {
			return err
		}
	}
	chain, err := blockchain.Open(chainConfig, document)
	if err != nil {
		return err
	}
	defer chain.Close()

	headID, headNum, headTimestamp := chain.Head()
	log.Infof("Chain %s loaded, head %s at number %d (%s)",
		chain.ChainID(), headID, headNum, headTimestamp)

	if signal.ShutdownRequested(interrupt) {
		return nil
	}
	<-interrupt
	return nil
}

func loadGenesisDocument(cfg *config.Config) (*blockchain.GenesisDocument, error) {
	if cfg.GenesisFile == "" {
		return nil, nil
	}
	serialized, err := ioutil.ReadFile(cfg.GenesisFile)
	if err != nil {
		return nil, err
	}
	return blockchain.DecodeGenesisDocument(serialized)
}
