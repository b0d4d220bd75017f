package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/rendis/calltrace/internal/logging"
	"github.com/rendis/calltrace/pkg/tracer"
)

// demoRows is how many rows process_data hands to parse_row.
const demoRows = 3

// pipeline is the traced demo: load, process (parsing each row) and save,
// followed by a load of a file that does not exist.
type pipeline struct {
	logger *slog.Logger

	main    func(context.Context) error
	load    func(context.Context, string) (string, error)
	process func(context.Context, string) (string, error)
	parse   func(context.Context, string) (bool, error)
	save    func(context.Context, string, string) (bool, error)
}

func newPipeline(tr *tracer.Tracer, logger *slog.Logger) *pipeline {
	p := &pipeline{logger: logger}
	p.load = tracer.Wrap1(tr, "load_data", p.loadData)
	p.process = tracer.Wrap1(tr, "process_data", p.processData)
	p.parse = tracer.Wrap1(tr, "parse_row", p.parseRow)
	p.save = tracer.Wrap2(tr, "save_data", p.saveData, tracer.ArgNames("data", "output_path"))
	p.main = tracer.WrapErr0(tr, "main", p.run)
	return p
}

func (p *pipeline) run(ctx context.Context) error {
	log := logging.LogWith(ctx, p.logger)
	log.Info("starting demo pipeline")

	if err := p.firstPass(ctx); err != nil {
		log.Error("a managed error occurred", slog.String("error", err.Error()))
	}

	// This load fails and shows up as a raise in the diagram.
	if _, err := p.load(ctx, "other_file.csv"); err != nil {
		log.Error("second pass failed as expected", slog.String("error", err.Error()))
	}

	log.Info("demo pipeline finished")
	return nil
}

func (p *pipeline) firstPass(ctx context.Context) error {
	data, err := p.load(ctx, "data.csv")
	if err != nil {
		return err
	}
	processed, err := p.process(ctx, data)
	if err != nil {
		return err
	}
	_, err = p.save(ctx, processed, "output.pkl")
	return err
}

func (p *pipeline) loadData(ctx context.Context, path string) (string, error) {
	logging.LogWith(ctx, p.logger).Info("loading data", slog.String("path", path))
	if path != "data.csv" {
		return "", &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return "some,csv,data", nil
}

func (p *pipeline) processData(ctx context.Context, data string) (string, error) {
	logging.LogWith(ctx, p.logger).Debug("processing data", slog.String("data", data))
	for i := range demoRows {
		if _, err := p.parse(ctx, fmt.Sprintf("row_%d", i)); err != nil {
			return "", err
		}
	}
	return "processed_data", nil
}

func (p *pipeline) parseRow(ctx context.Context, row string) (bool, error) {
	logging.LogWith(ctx, p.logger).Debug("parsing row", slog.String("row", row))
	return true, nil
}

func (p *pipeline) saveData(ctx context.Context, data, path string) (bool, error) {
	logging.LogWith(ctx, p.logger).Info("saving data", slog.String("data", data), slog.String("path", path))
	return true, nil
}
