// This is a developer tool to dump AndroidManifest.xml (or any AXML
// document) from an apk as textual XML, round-trip a textual document back
// to binary AXML, and verify an apk's v2 signing block.
package main

import (
	"crypto/x509"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/avast/apkverifier"

	"github.com/sidequest/modkit/internal/apkzip"
	"github.com/sidequest/modkit/internal/axml"
	"github.com/sidequest/modkit/internal/manifest"
)

type opts struct {
	isApk    bool
	verify   bool
	writeOut string
	xmlName  string
}

func main() {
	var o opts

	flag.BoolVar(&o.isApk, "a", false, "The input file is an apk (default if INPUT ends in .apk)")
	flag.BoolVar(&o.verify, "v", false, "Verify the v2 signing block if the input is an apk")
	flag.StringVar(&o.writeOut, "w", "", "Parse INPUT as textual XML and write it back as binary AXML to this path")
	flag.StringVar(&o.xmlName, "f", "AndroidManifest.xml", "Name of the AXML entry to read out of an apk")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] INPUT\n", os.Args[0])
		os.Exit(1)
	}
	input := flag.Arg(0)

	if !o.isApk && strings.HasSuffix(strings.ToLower(input), ".apk") {
		o.isApk = true
	}

	if o.writeOut != "" {
		if err := writeBinaryAXML(input, o.writeOut); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if o.isApk {
		if err := dumpFromApk(input, o.xmlName); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if o.verify {
			if !verifyApk(input) {
				os.Exit(1)
			}
		}
		return
	}

	if err := dumpFile(input); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dumpFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := decodeEvents(f)
	if err != nil {
		return err
	}
	return axml.WriteXML(os.Stdout, events)
}

func dumpFromApk(apkPath, entryName string) error {
	f, err := os.Open(apkPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	rdr, err := apkzip.OpenReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("opening apk: %w", err)
	}

	entry, err := rdr.Open(entryName)
	if err != nil {
		return fmt.Errorf("opening %s: %w", entryName, err)
	}
	defer entry.Close()

	events, err := decodeEvents(entry)
	if err != nil {
		return err
	}
	return axml.WriteXML(os.Stdout, events)
}

func decodeEvents(r io.Reader) ([]axml.Event, error) {
	reader, err := axml.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing axml: %w", err)
	}

	var events []axml.Event
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("parsing axml: %w", err)
		}
		if ev == nil {
			break
		}
		events = append(events, *ev)
	}
	return events, nil
}

// writeBinaryAXML parses inputPath as textual XML and writes it back as
// binary AXML to outputPath, resolving android:-namespace attribute names
// through the compiled resource-id table.
func writeBinaryAXML(inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	events, parseErrs := axml.ParseXML(in, manifest.LoadResourceIDTable())
	if len(parseErrs) > 0 {
		return fmt.Errorf("parsing %s: %v", inputPath, parseErrs[0])
	}

	w := axml.NewWriter()
	for _, ev := range events {
		w.WriteEvent(ev)
	}
	data, err := w.Finish()
	if err != nil {
		return fmt.Errorf("encoding axml: %w", err)
	}

	return os.WriteFile(outputPath, data, 0o644)
}

// verifyApk checks the v2 signing block using apkverifier, passing a nil
// ZipReader so it opens and parses the apk itself.
func verifyApk(path string) bool {
	res, err := apkverifier.VerifyWithSdkVersion(path, nil, -1, math.MaxInt32)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify error:", err)
		return false
	}

	fmt.Printf("\nVerification scheme used: v%d\n", res.SigningSchemeId)
	printCerts(res.SignerCerts)
	return true
}

func printCerts(certs [][]*x509.Certificate) {
	_, picked := apkverifier.PickBestApkCert(certs)

	for i, chain := range certs {
		for x, cert := range chain {
			fmt.Println()
			if picked == cert {
				fmt.Printf("Chain %d, cert %d [PICKED AS BEST]:\n", i, x)
			} else {
				fmt.Printf("Chain %d, cert %d:\n", i, x)
			}
			printCert(cert)
		}
	}
}

func printCert(cert *x509.Certificate) {
	var info apkverifier.CertInfo
	info.Fill(cert)

	fmt.Printf("algo: %s\n", cert.SignatureAlgorithm)
	fmt.Printf("validfrom: %s\n", info.ValidFrom)
	fmt.Printf("validto: %s\n", info.ValidTo)
	fmt.Printf("serialnumber: %s\n", hex.EncodeToString(cert.SerialNumber.Bytes()))
	fmt.Printf("thumbprint-sha256: %s\n", info.Sha256)
	fmt.Printf("Subject: %s\n", info.Subject)
	fmt.Printf("Issuer: %s\n", info.Issuer)
}
