// Command streamscribe-send streams a WAV file (or raw s16le PCM from
// stdin) to a streamscribe server at real-time pace and prints the
// transcript records as they arrive.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/soniclane/streamscribe/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "localhost:43007", "server address")
	file := flag.String("file", "", "16 kHz WAV file to stream; empty reads raw s16le PCM from stdin")
	chunkMS := flag.Int("chunk-ms", 100, "milliseconds of audio per network write")
	pace := flag.Bool("pace", true, "send at real-time speed instead of as fast as possible")
	flag.Parse()

	var pcm []byte
	if *file != "" {
		samples, rate, err := audio.ReadWAV(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamscribe-send: %v\n", err)
			return 1
		}
		if rate != audio.SampleRate {
			fmt.Fprintf(os.Stderr, "streamscribe-send: %s is %d Hz, want %d Hz\n", *file, rate, audio.SampleRate)
			return 1
		}
		pcm = audio.EncodePCM(samples)
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamscribe-send: read stdin: %v\n", err)
			return 1
		}
		pcm = data
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamscribe-send: %v\n", err)
		return 1
	}
	defer conn.Close()

	// Print records while audio is still going out.
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
	}()

	chunkBytes := *chunkMS * audio.BytesPerSecond / 1000
	chunkBytes -= chunkBytes % 2 // never split a sample
	if chunkBytes <= 0 {
		chunkBytes = 2
	}

	start := time.Now()
	for sent := 0; sent < len(pcm); sent += chunkBytes {
		end := min(sent+chunkBytes, len(pcm))
		if _, err := conn.Write(pcm[sent:end]); err != nil {
			fmt.Fprintf(os.Stderr, "streamscribe-send: write: %v\n", err)
			return 1
		}
		if *pace {
			elapsedAudio := time.Duration(end) * time.Second / time.Duration(audio.BytesPerSecond)
			if ahead := elapsedAudio - time.Since(start); ahead > 0 {
				time.Sleep(ahead)
			}
		}
	}

	// Half-close tells the server the stream is finished; records keep
	// flowing until it has flushed everything.
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	<-done
	return 0
}
