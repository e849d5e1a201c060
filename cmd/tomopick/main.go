// Copyright (C) 2026 The tomopick Authors
// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	tp "github.com/tomopick/tomopick/internal"
	"github.com/tomopick/tomopick/internal/compose"
	"github.com/tomopick/tomopick/internal/detect"
	"github.com/tomopick/tomopick/internal/ops"
	"github.com/tomopick/tomopick/internal/ops/bank"
	"github.com/tomopick/tomopick/internal/ops/pick"
	"github.com/tomopick/tomopick/internal/ops/pre"
	"github.com/tomopick/tomopick/internal/ops/synth"
	"github.com/tomopick/tomopick/internal/store"
	"github.com/tomopick/tomopick/internal/templates"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")
var logFile = flag.String("log", "", "save log output to `file`")
var db = flag.String("db", "", "record catalog, runs and candidates in the SQLite database `file`")
var threads = flag.Int("threads", 0, "maximum number of concurrent workers, 0=GOMAXPROCS")

var shapes = flag.String("shapes", "cube:5,sphere:3", "comma-separated template shapes, e.g. `sphere:4,mesh:chair.off:0.5,density:ribosome.fits`")
var res = flag.Int("res", 45, "tilt resolution in degrees, must divide 180")
var rank = flag.Int("rank", 3, "template and tomogram rank, 2=planar or 3=volumetric")
var catalogDir = flag.String("catalog", "templates", "cache directory for the template catalog, empty=no cache")

var size = flag.String("size", "64,64,64", "comma-separated tomogram size in voxels")
var num = flag.Int("n", 1, "number of tomograms to simulate")
var counts = flag.String("counts", "", "comma-separated number of instances per template, empty=one each")
var sep = flag.Float64("sep", 0, "minimum distance between instance centres in voxels, 0=catalog edge")
var seed = flag.Uint("seed", 0, "random seed for simulation, 0=time-based")
var noise = flag.Float64("noise", 0, "standard deviation of gaussian noise added to simulated tomograms, 0=none")

var out = flag.String("out", "", "save output tomograms with given filename pattern, e.g. `sim%03d.fits`")
var jpg = flag.String("jpg", "", "save annotated projection previews with given filename pattern, e.g. `sim%03d.jpg`")

var median = flag.Bool("median", false, "apply a 3x3 median filter to each plane before detection")
var threshold = flag.Float64("threshold", 50, "detection threshold on the smoothed saliency, <0=automatic")
var autoSigmas = flag.Float64("autoSigmas", 5, "automatic threshold in standard deviations above the saliency mode")
var sigma = flag.Float64("sigma", 3, "standard deviation of the saliency blur in voxels")
var window = flag.Int("window", 3, "half width of the non-maximum suppression window in voxels")
var saliency = flag.String("saliency", "", "save smoothed saliency grids with given filename pattern, e.g. `sal%03d.fits`")
var maxDist = flag.Float64("maxDist", 0, "maximum distance for matching detections to ground truth, 0=half the catalog edge")
var report = flag.String("report", "", "save per-tomogram evaluation as CSV to `file`")
var checkLabels = flag.Bool("checkLabels", false, "fail if labeled detections carry fewer than two distinct labels")

func main() {
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `Tomopick Copyright (c) 2026 The tomopick Authors, portions (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (templates|simulate|detect|run|stats|legal|version) (file0 ... filen)

Commands:
  templates Build the template catalog and save it to the catalog directory
  simulate  Simulate random tomograms from the template catalog
  detect    Detect template instances in tomograms, and evaluate against ground truth if present
  run       Run the JSON pipelines in the given files
  stats     Show tomogram statistics
  legal     Show license and attribution information
  version   Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *logFile != "" {
		if err := tp.LogAlsoToFile(*logFile); err != nil {
			tp.LogFatalf("Unable to open logfile '%s': %s\n", *logFile, err)
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			tp.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			tp.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	var err error
	switch args[0] {
	case "templates":
		err = runPipeline(ops.NewOpSequence(opBank()))
	case "simulate":
		err = cmdSimulate()
	case "detect":
		err = cmdDetect(args[1:])
	case "run":
		err = cmdRun(args[1:])
	case "stats":
		err = runPipeline(ops.NewOpSequence(ops.NewOpLoadMany(args[1:])))
	case "legal":
		fmt.Fprint(tp.LogWriter, legal)
	case "version":
		cmdVersion()
	case "help", "?":
		flag.Usage()
	default:
		tp.LogPrintf("Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	tp.LogPrintf("\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			tp.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			tp.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		tp.LogFatalf("Error: %s\n", err.Error())
	}
	tp.LogClose()
}

// Creates the catalog operator from the shape and tilt flags
func opBank() *bank.OpBank {
	parsed, err := templates.ParseShapes(*shapes)
	if err != nil {
		tp.LogFatalf("Error parsing shapes: %s\n", err)
	}
	descs := make([]templates.Descriptor, len(parsed))
	for i, s := range parsed {
		descs[i] = s.Descriptor()
	}
	return bank.NewOpBank(descs, *res, *rank, *catalogDir)
}

func cmdSimulate() error {
	naxisn, err := parseInt32s(*size)
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}
	cs, err := parseInts(*counts)
	if err != nil {
		return fmt.Errorf("invalid counts: %w", err)
	}
	seq := ops.NewOpSequence(
		opBank(),
		synth.NewOpSimulate(*num, naxisn, compose.Criteria{Counts: cs, Separation: *sep}, uint32(*seed)),
		pre.NewOpAddNoise(float32(*noise), uint32(*seed)),
	)
	appendSaves(seq)
	return runPipeline(seq)
}

func cmdDetect(files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("detect needs input files")
	}
	d := detect.NewDetectorDefault()
	d.Threshold, d.AutoSigmas, d.Sigma, d.Window = float32(*threshold), float32(*autoSigmas), float32(*sigma), *window
	opDetect := pick.NewOpDetect(*d)
	opDetect.SaliencyPattern = *saliency
	opEvaluate := pick.NewOpEvaluate(*maxDist, *report)
	opEvaluate.CheckLabels = *checkLabels

	seq := ops.NewOpSequence(opBank(), ops.NewOpLoadMany(files), pre.NewOpMedian(*median), opDetect, opEvaluate)
	appendSaves(seq)
	return runPipeline(seq)
}

func appendSaves(seq *ops.OpSequence) {
	if *out != "" {
		seq.Append(ops.NewOpSave(*out))
	}
	if *jpg != "" {
		seq.Append(ops.NewOpSave(*jpg))
	}
}

// Runs pipelines decoded from the given JSON files, in order
func cmdRun(files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("run needs pipeline files")
	}
	for _, fileName := range files {
		bs, err := os.ReadFile(fileName)
		if err != nil {
			return err
		}
		op, err := ops.UnmarshalOperator(bs)
		if err != nil {
			return fmt.Errorf("error decoding pipeline %s: %w", fileName, err)
		}
		seq, ok := op.(*ops.OpSequence)
		if !ok {
			seq = ops.NewOpSequence(op)
		}
		tp.LogPrintf("Running pipeline %s with %d steps\n", fileName, len(seq.Steps))
		if err := runPipeline(seq); err != nil {
			return err
		}
	}
	return nil
}

// Logs the pipeline, makes its promises and materializes them
func runPipeline(seq *ops.OpSequence) error {
	c := ops.NewContext(tp.LogWriter)
	if *threads > 0 {
		c.MaxThreads = *threads
	}
	if *db != "" {
		st, err := store.Open(*db)
		if err != nil {
			return err
		}
		defer st.Close()
		c.Store = st
	}

	if m, err := json.MarshalIndent(seq, "", "  "); err == nil {
		tp.LogPrintf("Pipeline settings:\n%s\n", string(m))
	}
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	if err == nil && c.RunID != "" {
		tp.LogPrintf("Recorded run %s in %s\n", c.RunID, *db)
	}
	return err
}

func cmdVersion() {
	tp.LogPrintf("Version %s\n", version)
	tp.LogPrintf("%s, %d physical cores, %d logical cores, AVX2 %v, FMA3 %v\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2(), cpuid.CPU.FMA3())
	tp.LogPrintf("%s, GOMAXPROCS %d\n", runtime.Version(), runtime.GOMAXPROCS(0))
}

func parseInts(s string) ([]int, error) {
	var res []int
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func parseInt32s(s string) ([]int32, error) {
	ints, err := parseInts(s)
	if err != nil {
		return nil, err
	}
	res := make([]int32, len(ints))
	for i, v := range ints {
		res[i] = int32(v)
	}
	return res, nil
}
