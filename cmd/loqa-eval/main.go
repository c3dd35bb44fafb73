package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/loqalabs/loqa-translate/internal/evaluation"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "expected 'asr', 'mt' or 'version'")
		return 2
	}

	switch args[0] {
	case "asr", "mt":
		var refPath, hypPath string
		cmd := flag.NewFlagSet(args[0], flag.ContinueOnError)
		cmd.SetOutput(stderr)
		cmd.StringVar(&refPath, "ref", args[0]+"_reference.txt", "Path to reference lines")
		cmd.StringVar(&hypPath, "hyp", args[0]+"_hypothesis.txt", "Path to hypothesis lines")
		if err := cmd.Parse(args[1:]); err != nil {
			return 2
		}
		out, err := score(args[0], refPath, hypPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	case "version":
		fmt.Fprintln(stdout, version)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}
	return 0
}

func score(kind, refPath, hypPath string) (string, error) {
	refs, err := evaluation.ReadLines(refPath)
	if err != nil {
		return "", err
	}
	hyps, err := evaluation.ReadLines(hypPath)
	if err != nil {
		return "", err
	}
	if kind == "asr" {
		wer, err := evaluation.WER(refs, hyps)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ASR WER: %.4f", wer), nil
	}
	bleu, err := evaluation.CorpusBLEU(hyps, refs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MT BLEU: %.2f", bleu.Score), nil
}
