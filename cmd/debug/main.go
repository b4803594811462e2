package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/oebus/fansync/db"
	"github.com/oebus/fansync/internal/transport"
	"github.com/oebus/fansync/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, deviceID, paramID string
	var brokerURL, topicPrefix, gatewayID, fromID string
	var execPath, configPath, unitPath string
	flag.StringVar(&dbPath, "db", "data/fansync.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: dump, get, read, install-service")
	flag.StringVar(&deviceID, "device", "", "Device ID for get/read")
	flag.StringVar(&paramID, "param", "", "Parameter ID for get/read")
	flag.StringVar(&brokerURL, "broker", "tcp://localhost:1883", "MQTT broker URL for read")
	flag.StringVar(&topicPrefix, "prefix", "RAMSES/GATEWAY", "Gateway topic prefix for read")
	flag.StringVar(&gatewayID, "gateway", "", "Gateway device ID for read")
	flag.StringVar(&fromID, "from", "", "Source device ID for read")
	flag.StringVar(&execPath, "exec", "/usr/local/bin/fansync", "fansync binary path for install-service")
	flag.StringVar(&configPath, "config", "/etc/fansync/config.json", "Config path for install-service")
	flag.StringVar(&unitPath, "unit", "/etc/systemd/system/fansync.service", "Unit file path for install-service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of fansync-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/fansync.db')")
		fmt.Println("  -cmd string\tCommand to run: dump, get, read, install-service")
		fmt.Println("  -device string\tDevice ID for get/read")
		fmt.Println("  -param string\tParameter ID for get/read")
		fmt.Println("  -broker string\tMQTT broker URL for read")
		fmt.Println("  -gateway string\tGateway device ID for read")
		fmt.Println("  -from string\tSource device ID for read")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "dump":
		err = dumpRecords(dbPath)
	case "get":
		if deviceID == "" || paramID == "" {
			fmt.Println("Error: device and param are required")
			os.Exit(1)
		}
		err = getRecord(dbPath, deviceID, paramID)
	case "read":
		if deviceID == "" || paramID == "" || gatewayID == "" || fromID == "" {
			fmt.Println("Error: device, param, gateway and from are required")
			os.Exit(1)
		}
		err = injectRead(brokerURL, topicPrefix, gatewayID, deviceID, strings.ToUpper(paramID), fromID)
	case "install-service":
		err = startup.InstallService(execPath, configPath, unitPath)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func dumpRecords(dbPath string) error {
	conn, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	records, err := db.LoadRecords(conn)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tPARAM\tVALUE\tUPDATED")
	for deviceID, recs := range records {
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", deviceID, rec.ParamID, rec.RawValue, rec.LastUpdated.Format("2006-01-02 15:04:05"))
		}
	}
	return w.Flush()
}

func getRecord(dbPath, deviceID, paramID string) error {
	conn, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	rec, err := db.GetRecord(conn, deviceID, paramID)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s = %v (updated %s)\n", deviceID, rec.ParamID, rec.RawValue, rec.LastUpdated.Format("2006-01-02 15:04:05"))
	return nil
}

// injectRead publishes a single parameter read through the gateway bridge.
// The reply, if the device answers, shows up on the running service, not here.
func injectRead(brokerURL, topicPrefix, gatewayID, deviceID, paramID, fromID string) error {
	trans, err := transport.NewMQTT(brokerURL, topicPrefix, gatewayID, nil)
	if err != nil {
		return err
	}
	defer trans.Close()

	if err := trans.SendRead(deviceID, paramID, fromID); err != nil {
		return err
	}
	fmt.Printf("Read request for %s/%s sent from %s\n", deviceID, paramID, fromID)
	return nil
}
