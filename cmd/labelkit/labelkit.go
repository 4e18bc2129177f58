package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/config"
	"github.com/cyclopcam/labelkit/pkg/legacy"
	"github.com/cyclopcam/labelkit/pkg/metrics"
	"github.com/cyclopcam/labelkit/pkg/ndjson"
	"github.com/cyclopcam/labelkit/pkg/ontology"
	"github.com/cyclopcam/logs"
)

const (
	formatNDJSON = "ndjson"
	formatLegacy = "legacy"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("labelkit", "Convert, resolve and measure annotation labels")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON config file", Required: false, Default: ""})

	convert := parser.NewCommand("convert", "Convert labels between the bulk NDJSON form and the legacy per-label form")
	convertFrom := convert.Selector("", "from", []string{formatNDJSON, formatLegacy}, &argparse.Options{Help: "Input format. Inferred from the file extension if omitted"})
	convertTo := convert.Selector("", "to", []string{formatNDJSON, formatLegacy}, &argparse.Options{Help: "Output format", Required: true})
	convertIn := convert.String("i", "input", &argparse.Options{Help: "Input label file", Required: true})
	convertOut := convert.String("o", "output", &argparse.Options{Help: "Output label file. Standard output if omitted"})

	resolve := parser.NewCommand("resolve", "Fill in feature schema ids or names from an ontology")
	resolveIn := resolve.String("i", "input", &argparse.Options{Help: "Input label file", Required: true})
	resolveOut := resolve.String("o", "output", &argparse.Options{Help: "Output label file. Standard output if omitted"})
	resolveOntology := resolve.String("", "ontology", &argparse.Options{Help: "Ontology, in normalized JSON form", Required: true})
	resolveMode := resolve.Selector("", "mode", []string{"ids", "names"}, &argparse.Options{Help: "What to fill in", Default: "ids"})

	measure := parser.NewCommand("metrics", "Compare predicted labels against ground truth")
	measureGT := measure.String("", "gt", &argparse.Options{Help: "Ground truth label file", Required: true})
	measurePred := measure.String("", "pred", &argparse.Options{Help: "Predicted label file", Required: true})
	measureFeatures := measure.Flag("f", "features", &argparse.Options{Help: "Report every feature separately", Default: false})
	measureOut := measure.String("o", "output", &argparse.Options{Help: "Output file. Standard output if omitted"})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg, err := config.LoadConfig(*configFile)
	check(err)

	switch {
	case convert.Happened():
		labels, err := readLabels(*convertIn, *convertFrom)
		check(err)
		if cfg.AssignUUIDs {
			for _, l := range labels {
				l.EnsureUUIDs()
			}
		}
		check(writeLabels(*convertOut, *convertTo, labels))
		logger.Infof("Converted %v labels from %v", len(labels), *convertIn)
	case resolve.Happened():
		check(runResolve(logger, *resolveIn, *resolveOut, *resolveOntology, *resolveMode))
	case measure.Happened():
		ctx := context.Background()
		fetcher, closeFetcher, err := cfg.Fetcher(ctx, logger)
		check(err)
		defer closeFetcher()
		opts := cfg.MetricsOptions(fetcher, logger)
		results, err := runMetrics(ctx, logger, *measureGT, *measurePred, *measureFeatures, opts)
		check(err)
		check(writeJSON(*measureOut, results))
	}
}

func formatOf(filename, format string) string {
	if format != "" {
		return format
	}
	if strings.EqualFold(filepath.Ext(filename), ".ndjson") {
		return formatNDJSON
	}
	return formatLegacy
}

func readLabels(filename, format string) ([]*annotation.Label, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []*annotation.Label
	if formatOf(filename, format) == formatNDJSON {
		labels, err = ndjson.Deserialize(f)
	} else {
		var raw []byte
		if raw, err = io.ReadAll(f); err == nil {
			labels, err = legacy.Unmarshal(raw)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to read labels from %v: %w", filename, err)
	}
	return labels, nil
}

// create opens filename for writing, or returns standard output if filename is empty
func create(filename string) (io.WriteCloser, error) {
	if filename == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(filename)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func writeLabels(filename, format string, labels []*annotation.Label) error {
	out, err := create(filename)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	if formatOf(filename, format) == formatNDJSON {
		err = ndjson.Serialize(w, labels)
	} else {
		var raw []byte
		if raw, err = legacy.Marshal(labels); err == nil {
			_, err = w.Write(raw)
		}
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

func writeJSON(filename string, v any) error {
	out, err := create(filename)
	if err != nil {
		return err
	}
	defer out.Close()
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func runResolve(log logs.Log, input, output, ontologyFile, mode string) error {
	raw, err := os.ReadFile(ontologyFile)
	if err != nil {
		return err
	}
	o, err := ontology.FromNormalized(raw)
	if err != nil {
		return fmt.Errorf("Failed to load ontology %v: %w", ontologyFile, err)
	}
	r, err := ontology.NewResolver(o)
	if err != nil {
		return err
	}
	labels, err := readLabels(input, "")
	if err != nil {
		return err
	}
	for _, l := range labels {
		if mode == "names" {
			err = annotation.AssignNames(log, l, r)
		} else {
			err = annotation.AssignFeatureSchemaIDs(log, l, r)
		}
		if err != nil {
			return fmt.Errorf("Failed to resolve label of data row %v: %w", l.Data.Key(), err)
		}
	}
	return writeLabels(output, formatOf(input, ""), labels)
}

type labelMetrics struct {
	DataRow   string                    `json:"dataRow"`
	IoU       []metrics.ScalarMetric    `json:"iou"`
	Confusion []metrics.ConfusionMetric `json:"confusion"`
}

// runMetrics pairs labels by data row. A data row present on only one side
// is compared against nothing.
func runMetrics(ctx context.Context, log logs.Log, gtFile, predFile string, perFeature bool, opts metrics.Options) ([]labelMetrics, error) {
	gt, err := readLabels(gtFile, "")
	if err != nil {
		return nil, err
	}
	pred, err := readLabels(predFile, "")
	if err != nil {
		return nil, err
	}
	keys := []string{}
	gtByKey := map[string][]annotation.Annotation{}
	predByKey := map[string][]annotation.Annotation{}
	for _, l := range gt {
		if _, ok := gtByKey[l.Data.Key()]; !ok {
			keys = append(keys, l.Data.Key())
		}
		gtByKey[l.Data.Key()] = append(gtByKey[l.Data.Key()], l.Annotations...)
	}
	for _, l := range pred {
		_, inGT := gtByKey[l.Data.Key()]
		_, inPred := predByKey[l.Data.Key()]
		if !inGT && !inPred {
			keys = append(keys, l.Data.Key())
		}
		predByKey[l.Data.Key()] = append(predByKey[l.Data.Key()], l.Annotations...)
	}

	iouMetric := metrics.MIoUMetric
	confusionMetric := metrics.ConfusionMatrixMetric
	if perFeature {
		iouMetric = metrics.FeatureMIoUMetric
		confusionMetric = metrics.FeatureConfusionMatrixMetric
	}
	results := []labelMetrics{}
	for _, key := range keys {
		r := labelMetrics{DataRow: key}
		if r.IoU, err = iouMetric(ctx, gtByKey[key], predByKey[key], opts); err != nil {
			return nil, fmt.Errorf("Failed to measure IoU of data row %v: %w", key, err)
		}
		if r.Confusion, err = confusionMetric(ctx, gtByKey[key], predByKey[key], opts); err != nil {
			return nil, fmt.Errorf("Failed to measure confusion matrix of data row %v: %w", key, err)
		}
		results = append(results, r)
	}
	log.Infof("Measured %v data rows", len(results))
	return results, nil
}
