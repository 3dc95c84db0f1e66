package carrier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/anywire/anywire/cmn/cos"
)

// S3Binding is the bonus fourth carrier medium: an S3-compatible bucket
// used as a shared store-and-forward directory, the same Binding contract
// as folder/FTP/IMAP. Grounded on the teacher's own aws-sdk-go-v2 backend
// (ais/backend) — a cloud bucket as a polled, named-object store is exactly
// what aistore's S3 backend already treats a bucket as, just addressed by
// our naming schema instead of object-store bucket/object semantics.
type S3Binding struct {
	cli    *s3.Client
	bucket string
	prefix string
}

func NewS3Binding(ctx context.Context, bucket, prefix, endpoint string) (*S3Binding, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &cos.ErrTransportFatal{Reason: fmt.Sprintf("aws config: %v", err)}
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Binding{cli: cli, bucket: bucket, prefix: prefix}, nil
}

func (b *S3Binding) key(name string) string { return b.prefix + name }

func (b *S3Binding) Send(sender, recipient string, sid, seq uint64, payload []byte) (string, error) {
	if err := validate(sender, recipient); err != nil {
		return "", err
	}
	name := encodeBlobName(Fields{Sender: sender, Recipient: recipient, Sid: sid, Seq: seq})
	// S3 PutObject is itself atomic (readers never observe a partial
	// object), so unlike folder/FTP no temp-name/rename dance is needed.
	_, err := b.cli.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return "", &errTransient{err}
	}
	return name, nil
}

func (b *S3Binding) List(filter Filter) ([]string, error) {
	var uids []string
	paginator := s3.NewListObjectsV2Paginator(b.cli, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, &errTransient{err}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), b.prefix)
			if fl, ok := decodeBlobName(name); ok && filter.matches(fl) {
				uids = append(uids, name)
			}
		}
	}
	return uids, nil
}

func (b *S3Binding) Fetch(uid string) (Fields, []byte, error) {
	fl, ok := decodeBlobName(uid)
	if !ok {
		return Fields{}, nil, fmt.Errorf("carrier(s3): %w: %q", errBadUID, uid)
	}
	out, err := b.cli.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(uid)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if isNoSuchKey(err, nsk) {
			return Fields{}, nil, notFoundErr(uid)
		}
		return Fields{}, nil, &errTransient{err}
	}
	defer out.Body.Close()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return Fields{}, nil, &errTransient{err}
	}
	return fl, payload, nil
}

func isNoSuchKey(err error, _ *types.NoSuchKey) bool {
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

func (b *S3Binding) Delete(uid string) error {
	if fl, ok := decodeBlobName(uid); ok && fl.Recipient == Any {
		return nil
	}
	_, err := b.cli.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(uid)),
	})
	if err != nil {
		return &errTransient{err}
	}
	return nil
}

func (b *S3Binding) PublishCapabilities(rid string, names []string) error {
	_, err := b.cli.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(capaName(rid))),
		Body:   bytes.NewReader(encodeCapabilities(names)),
	})
	if err != nil {
		return &errTransient{err}
	}
	return nil
}

func (b *S3Binding) ListCapabilities() ([]string, error) {
	var rids []string
	page, err := b.cli.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	if err != nil {
		return nil, &errTransient{err}
	}
	for _, obj := range page.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), b.prefix)
		if rid, ok := ridFromCapaName(name); ok {
			rids = append(rids, rid)
		}
	}
	return rids, nil
}

func (b *S3Binding) Capabilities(rid string) ([]string, error) {
	out, err := b.cli.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(capaName(rid))),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if isNoSuchKey(err, nsk) {
			return nil, notFoundErr(rid)
		}
		return nil, &errTransient{err}
	}
	defer out.Body.Close()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &errTransient{err}
	}
	return decodeCapabilities(payload)
}

func (b *S3Binding) RemoveCapabilities(rid string) error {
	return b.Delete(capaName(rid))
}

func (b *S3Binding) Close() error { return nil }
