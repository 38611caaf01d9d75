package awsinfo

import (
	"fmt"

	"github.com/alexflint/go-arg"
	"github.com/nathants/aws-info/lib"
)

func init() {
	lib.Commands["aws-profiles"] = awsProfiles
	lib.Args["aws-profiles"] = awsProfilesArgs{}
}

type awsProfilesArgs struct {
}

func (awsProfilesArgs) Description() string {
	return "\nlist aws profiles from ~/.aws/credentials and ~/.aws/config\n"
}

func awsProfiles() {
	var args awsProfilesArgs
	arg.MustParse(&args)
	profiles, err := lib.Profiles()
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	for _, profile := range profiles {
		fmt.Println(profile)
	}
}
