// ginkgo-devices prints the device inventory per executor kind.
//
// Without flags it reports the kinds' device counts as discovered from the
// registered drivers (0 for absent drivers). With -sim it installs simulated
// drivers first, e.g.:
//
//	ginkgo-devices -sim cuda=2,hip=1
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/nvenko/ginkgo/executor"
	"github.com/nvenko/ginkgo/executor/sim"
)

var flagSim = flag.String("sim", "", "comma-separated simulated drivers to install, as <kind>=<devices>")

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagSim != "" {
		for _, entry := range strings.Split(*flagSim, ",") {
			kindName, countStr, ok := strings.Cut(entry, "=")
			if !ok {
				fmt.Fprintf(os.Stderr, "invalid -sim entry %q, want <kind>=<devices>\n", entry)
				os.Exit(1)
			}
			kind := must.M1(executor.ParseKind(kindName))
			count := must.M1(strconv.Atoi(countStr))
			sim.Install(kind, sim.Config{Devices: count, MemoryPerDevice: 8 << 30})
		}
	}

	for _, kind := range executor.Kinds() {
		count, err := executor.NumDevices(kind)
		if err != nil {
			fmt.Printf("%-10s enumeration failed: %v\n", kind, err)
			continue
		}
		fmt.Printf("%-10s %d device(s)\n", kind, count)
		if kind.IsHost() {
			continue
		}
		for device := 0; device < count; device++ {
			exec := must.M1(executor.NewAccelerator(kind, device, nil, executor.AllocDevice))
			props := exec.Properties()
			memory := "unknown memory"
			if props.TotalMemory > 0 {
				memory = humanize.IBytes(props.TotalMemory)
			}
			fmt.Printf("  #%d %s: compute %d.%d, %d unit(s), subgroup %d, %s\n",
				device, props.Name, props.ComputeMajor, props.ComputeMinor,
				props.ComputeUnits, props.SubgroupSize, memory)
			exec.Finalize()
		}
	}
}
