package main

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/parallel-sync/pkg/checksum"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/fetch"
	"github.com/yuya-takeyama/parallel-sync/pkg/remote"
	"github.com/yuya-takeyama/parallel-sync/pkg/s3client"
	"github.com/yuya-takeyama/parallel-sync/pkg/transfer"
)

func newUploadCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <LocalPath> <RemotePath>",
		Short: "Copy a local file or directory to the remote host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := f.credential()
			if err != nil {
				return err
			}
			return transfer.Upload(cmd.Context(), args[0], args[1], cred, f.options())
		},
	}
}

func newDownloadCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "download <RemotePath> <LocalPath>",
		Short: "Copy a remote file or directory to the local host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := f.credential()
			if err != nil {
				return err
			}
			return transfer.Download(cmd.Context(), args[0], args[1], cred, f.options())
		},
	}
}

func newCopyCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <SourcePath> <DestPath>",
		Short: "Copy a file or directory between two local locations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transfer.Copy(cmd.Context(), args[0], args[1], f.options())
		},
	}
}

func newFetchCmd(f *flags) *cobra.Command {
	var (
		filenames       []string
		onRemote        bool
		downloadTimeout time.Duration
		profile         string
		region          string
	)

	cmd := &cobra.Command{
		Use:   "fetch <TargetDir> <URL>...",
		Short: "Download http(s) or s3:// URLs into a directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := fetch.Options{
				Tries:       f.tries,
				Timeout:     downloadTimeout,
				Parallelism: f.parallelism,
				Extract:     f.extract,
			}
			if len(filenames) > 0 {
				opts.Filenames = filenames
			}

			fetcher := fetch.New(fetch.WithObjectLoader(func(ctx context.Context) (fetch.ObjectDownloader, error) {
				var configOpts []func(*awsconfig.LoadOptions) error
				if profile != "" {
					configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(profile))
				}
				if region != "" {
					configOpts = append(configOpts, awsconfig.WithRegion(region))
				}
				return s3client.NewFromEnvironment(ctx, f.parallelism, configOpts...)
			}))

			if !onRemote {
				return fetcher.Download(cmd.Context(), args[0], args[1:], opts)
			}
			cred, err := f.credential()
			if err != nil {
				return err
			}
			return fetcher.DownloadRemote(cmd.Context(), args[0], args[1:], cred, opts)
		},
	}

	cmd.Flags().StringSliceVar(&filenames, "filename", nil, "File name for each URL, in order (multiple allowed)")
	cmd.Flags().BoolVar(&onRemote, "remote", false, "Download on the remote host instead of locally")
	cmd.Flags().DurationVar(&downloadTimeout, "download-timeout", fetch.DefaultTimeout, "Network timeout for each download")
	cmd.Flags().StringVar(&profile, "profile", "", "AWS profile to use for s3:// URLs")
	cmd.Flags().StringVar(&region, "region", "", "AWS region (uses default if not specified)")
	return cmd
}

func newDigestCmd(f *flags) *cobra.Command {
	var onRemote bool

	cmd := &cobra.Command{
		Use:   "digest <Path>",
		Short: "Print a content digest of every file under a directory",
		Long: `digest prints the md5 of the sorted md5 digests of every regular file under
Path. Two trees with the same file contents print the same digest, wherever
they live.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var exec *executor.Executor
			if onRemote {
				cred, err := f.credential()
				if err != nil {
					return err
				}
				session, err := remote.SSH{}.Connect(ctx, cred)
				if err != nil {
					return err
				}
				defer session.Close()
				exec = executor.New(session, 1, f.tries)
			}

			sum, err := checksum.TreeDigest(ctx, args[0], exec)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}

	cmd.Flags().BoolVar(&onRemote, "remote", false, "Compute the digest on the remote host")
	return cmd
}
